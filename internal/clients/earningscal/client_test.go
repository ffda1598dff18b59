package earningscal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

const calendarCSV = `symbol,name,reportDate,fiscalDateEnding,estimate,currency
NVDA,NVIDIA Corporation,2026-09-02,2026-07-31,1.01,USD
MSFT,Microsoft Corporation,2026-10-27,2026-09-30,3.22,USD
BAD,,not-a-date,2026-09-30,,USD
CRM,Salesforce Inc,2026-09-03,2026-07-31,,USD
`

const newsJSON = `{
  "items": "2",
  "feed": [
    {
      "title": "NVDA beats estimates",
      "summary": "Record data center revenue",
      "url": "https://example.com/1",
      "time_published": "20260825T120000",
      "overall_sentiment_score": 0.32,
      "ticker_sentiment": [
        {"ticker": "NVDA", "relevance_score": "0.9", "ticker_sentiment_score": "0.45"},
        {"ticker": "AMD", "relevance_score": "0.2", "ticker_sentiment_score": "-0.1"}
      ]
    },
    {
      "title": "Chip demand cooling",
      "summary": "Analysts trim targets",
      "url": "https://example.com/2",
      "time_published": "20260824T090000",
      "overall_sentiment_score": -0.15,
      "ticker_sentiment": []
    }
  ]
}`

func newCalendarClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.EarningsConfig{APIKey: "test-key", BaseURL: server.URL}, zerolog.Nop())
}

func TestNewClient(t *testing.T) {
	client := NewClient(config.EarningsConfig{APIKey: "test-key"}, zerolog.Nop())

	assert.NotNil(t, client)
	assert.Equal(t, "test-key", client.apiKey)
	assert.Equal(t, 25, client.GetRemainingRequests())
}

func TestGetEarningsCalendar(t *testing.T) {
	client := newCalendarClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EARNINGS_CALENDAR", r.URL.Query().Get("function"))
		assert.Equal(t, "3month", r.URL.Query().Get("horizon"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(calendarCSV))
	})

	entries, err := client.GetEarningsCalendar(context.Background(), Horizon3Month)
	require.NoError(t, err)

	// The row with a malformed date is dropped.
	require.Len(t, entries, 3)
	assert.Equal(t, "NVDA", entries[0].Ticker)
	assert.Equal(t, "2026-09-02", entries[0].ReportDate)
	require.NotNil(t, entries[0].Estimate)
	assert.InDelta(t, 1.01, *entries[0].Estimate, 1e-9)
	assert.Nil(t, entries[2].Estimate)
	assert.Equal(t, 24, client.GetRemainingRequests())
}

func TestGetEarningsCalendarQuotaNote(t *testing.T) {
	client := newCalendarClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Information": "API call volume reached"}`))
	})

	_, err := client.GetEarningsCalendar(context.Background(), Horizon3Month)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGetNewsSentiment(t *testing.T) {
	var calls atomic.Int32
	client := newCalendarClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "NEWS_SENTIMENT", r.URL.Query().Get("function"))
		assert.Equal(t, "NVDA", r.URL.Query().Get("tickers"))
		_, _ = w.Write([]byte(newsJSON))
	})

	articles, err := client.GetNewsSentiment(context.Background(), "nvda")
	require.NoError(t, err)

	require.Len(t, articles, 2)
	assert.Equal(t, "NVDA beats estimates", articles[0].Title)
	assert.InDelta(t, 0.45, articles[0].TickerScore, 1e-9)
	assert.InDelta(t, 0.9, articles[0].TickerRelevance, 1e-9)
	assert.InDelta(t, 0.0, articles[1].TickerScore, 1e-9)

	// Second call is served from the in-memory cache.
	again, err := client.GetNewsSentiment(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRateLimiting(t *testing.T) {
	client := NewClient(config.EarningsConfig{APIKey: "test-key"}, zerolog.Nop())

	for i := 0; i < 25; i++ {
		remaining := client.GetRemainingRequests()
		assert.Equal(t, 25-i, remaining)
		err := client.checkRateLimit()
		require.NoError(t, err)
	}

	err := client.checkRateLimit()
	assert.Error(t, err)
	assert.IsType(t, ErrRateLimitExceeded{}, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestResetDailyCounter(t *testing.T) {
	client := NewClient(config.EarningsConfig{APIKey: "test-key"}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		_ = client.checkRateLimit()
	}
	assert.Equal(t, 15, client.GetRemainingRequests())

	client.ResetDailyCounter()
	assert.Equal(t, 25, client.GetRemainingRequests())
}

func TestCaching(t *testing.T) {
	client := NewClient(config.EarningsConfig{APIKey: "test-key"}, zerolog.Nop())

	testData := "test data"
	client.setCache("test-key", testData, time.Hour)

	cached, ok := client.getFromCache("test-key")
	assert.True(t, ok)
	assert.Equal(t, testData, cached)

	_, ok = client.getFromCache("non-existent")
	assert.False(t, ok)
}

func TestCacheExpiration(t *testing.T) {
	client := NewClient(config.EarningsConfig{APIKey: "test-key"}, zerolog.Nop())

	client.setCache("test-key", "test data", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := client.getFromCache("test-key")
	assert.False(t, ok)
}

func TestClearCache(t *testing.T) {
	client := NewClient(config.EarningsConfig{APIKey: "test-key"}, zerolog.Nop())

	client.setCache("key1", "data1", time.Hour)
	client.setCache("key2", "data2", time.Hour)

	client.ClearCache()

	_, ok1 := client.getFromCache("key1")
	_, ok2 := client.getFromCache("key2")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestCalendarRetriesOnServerError(t *testing.T) {
	oldWait := retryBaseWait
	retryBaseWait = time.Millisecond
	t.Cleanup(func() { retryBaseWait = oldWait })

	var calls atomic.Int32
	client := newCalendarClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(calendarCSV))
	})

	entries, err := client.GetEarningsCalendar(context.Background(), Horizon3Month)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.EqualValues(t, 2, calls.Load())

	// Retries within one logical call consume a single request unit.
	assert.Equal(t, 24, client.GetRemainingRequests())
}
