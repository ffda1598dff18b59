package ivlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

func setupIVLog(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ivlog_test.db"),
		Profile: database.ProfileStandard,
		Name:    "ivlog_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewStore(db, zerolog.Nop())
}

// seedSeries records one observation per implied-move value, a minute apart,
// oldest first.
func seedSeries(t *testing.T, s *Store, ticker string, moves ...float64) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Duration(len(moves)) * time.Minute)
	for i, m := range moves {
		obs := Observation{
			Ticker:         ticker,
			ObservedAt:     base.Add(time.Duration(i) * time.Minute),
			Expiration:     "2026-09-04",
			ATMStrike:      100,
			StraddleCost:   m,
			ImpliedMovePct: m,
			Source:         "optionsdata",
		}
		require.NoError(t, s.Record(context.Background(), obs))
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := setupIVLog(t)
	ctx := context.Background()

	seedSeries(t, s, "NVDA", 4.0, 5.0, 6.5)
	seedSeries(t, s, "MSFT", 3.0)

	recent, err := s.Recent(ctx, "NVDA", 10)
	require.NoError(t, err)

	require.Len(t, recent, 3)
	assert.InDelta(t, 6.5, recent[0].ImpliedMovePct, 1e-9, "newest first")
	assert.InDelta(t, 4.0, recent[2].ImpliedMovePct, 1e-9)
	assert.Equal(t, "NVDA", recent[0].Ticker)
	assert.Equal(t, "2026-09-04", recent[0].Expiration)
	assert.Equal(t, "optionsdata", recent[0].Source)
	assert.False(t, recent[0].ObservedAt.IsZero())

	limited, err := s.Recent(ctx, "NVDA", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRecordRejectsBadTicker(t *testing.T) {
	s := setupIVLog(t)

	var ve *domain.ValidationError
	err := s.Record(context.Background(), Observation{Ticker: "too long"})
	assert.ErrorAs(t, err, &ve)
}

func TestFromImpliedMove(t *testing.T) {
	move := &domain.ImpliedMove{
		Ticker:         "NVDA",
		Expiration:     "2026-09-04",
		ATMStrike:      100,
		StraddleCost:   5.5,
		ImpliedMovePct: 5.5,
	}

	obs := FromImpliedMove(move, 100.0, "optionsdata")
	assert.Equal(t, "NVDA", obs.Ticker)
	assert.InDelta(t, 5.5, obs.ImpliedMovePct, 1e-9)
	assert.InDelta(t, 100.0, obs.UnderlyingPrice, 1e-9)
	assert.Equal(t, "optionsdata", obs.Source)
}

func TestTrendDirections(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   TrendDirection
	}{
		{"rising", []float64{4.0, 5.0, 6.5}, TrendRising},
		{"falling", []float64{6.5, 5.0, 4.0}, TrendFalling},
		{"flat", []float64{5.0, 5.0, 5.05}, TrendFlat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupIVLog(t)
			seedSeries(t, s, "NVDA", tt.series...)

			trend, ok, err := s.TrendFor(context.Background(), "NVDA", 3)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, trend.Direction)
			assert.InDelta(t, tt.series[len(tt.series)-1], trend.Latest, 1e-9)
			assert.Equal(t, 3, trend.Observations)
		})
	}
}

func TestTrendNeedsEnoughObservations(t *testing.T) {
	s := setupIVLog(t)
	seedSeries(t, s, "NVDA", 4.0, 5.0)

	trend, ok, err := s.TrendFor(context.Background(), "NVDA", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, trend.Observations)
}

func TestPrune(t *testing.T) {
	s := setupIVLog(t)
	ctx := context.Background()

	old := Observation{Ticker: "NVDA", ObservedAt: time.Now().UTC().Add(-48 * time.Hour), ImpliedMovePct: 4.0}
	fresh := Observation{Ticker: "NVDA", ObservedAt: time.Now().UTC(), ImpliedMovePct: 5.0}
	require.NoError(t, s.Record(ctx, old))
	require.NoError(t, s.Record(ctx, fresh))

	n, err := s.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	recent, err := s.Recent(ctx, "NVDA", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.InDelta(t, 5.0, recent[0].ImpliedMovePct, 1e-9)
}
