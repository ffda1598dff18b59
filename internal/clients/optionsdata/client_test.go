package optionsdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

func newOptionsClient(t *testing.T, cfg config.OptionsConfig, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.APIKey = "test-token"
	cfg.BaseURL = server.URL
	return NewClient(cfg, zerolog.Nop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetExpirations(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/options/expirations", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "NVDA", r.URL.Query().Get("symbol"))
		writeJSON(t, w, map[string]interface{}{
			"expirations": map[string]interface{}{
				"date": []string{"2026-09-11", "2026-09-04"},
			},
		})
	})

	dates, err := client.GetExpirations(context.Background(), "nvda")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-09-04", "2026-09-11"}, dates)
}

func TestGetExpirationsEmpty(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"expirations": map[string]interface{}{"date": []string{}}})
	})

	_, err := client.GetExpirations(context.Background(), "NVDA")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestGetOptionChain(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/quotes":
			writeJSON(t, w, map[string]interface{}{
				"quotes": map[string]interface{}{
					"quote": map[string]interface{}{"symbol": "NVDA", "last": 100.0},
				},
			})
		case "/markets/options/chains":
			assert.Equal(t, "2026-09-04", r.URL.Query().Get("expiration"))
			writeJSON(t, w, map[string]interface{}{
				"options": map[string]interface{}{
					"option": []map[string]interface{}{
						{"strike": 105.0, "option_type": "call", "bid": 1.0, "ask": 1.2, "open_interest": 500, "volume": 100},
						{"strike": 100.0, "option_type": "call", "bid": 2.8, "ask": 3.2, "open_interest": 1500, "volume": 600},
						{"strike": 100.0, "option_type": "put", "bid": 2.3, "ask": 2.7, "open_interest": 1200, "volume": 400},
						{"strike": 95.0, "option_type": "put", "bid": 0.9, "ask": 1.1, "open_interest": 800, "volume": 200},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	chain, err := client.GetOptionChain(context.Background(), "NVDA", "2026-09-04")
	require.NoError(t, err)

	assert.Equal(t, "NVDA", chain.Ticker)
	assert.InDelta(t, 100.0, chain.UnderlyingPrice, 1e-9)
	require.Len(t, chain.Calls, 2)
	require.Len(t, chain.Puts, 2)

	// Sorted by strike.
	assert.InDelta(t, 100.0, chain.Calls[0].Strike, 1e-9)
	assert.InDelta(t, 105.0, chain.Calls[1].Strike, 1e-9)
	assert.InDelta(t, 95.0, chain.Puts[0].Strike, 1e-9)
}

func TestGetOptionChainEmpty(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/markets/quotes" {
			writeJSON(t, w, map[string]interface{}{
				"quotes": map[string]interface{}{
					"quote": map[string]interface{}{"symbol": "NVDA", "last": 100.0},
				},
			})
			return
		}
		writeJSON(t, w, map[string]interface{}{"options": map[string]interface{}{"option": []interface{}{}}})
	})

	_, err := client.GetOptionChain(context.Background(), "NVDA", "2026-09-04")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestGetOptionChainRejectsBadDate(t *testing.T) {
	client := NewClient(config.OptionsConfig{APIKey: "k", BaseURL: "http://unused"}, zerolog.Nop())

	_, err := client.GetOptionChain(context.Background(), "NVDA", "next friday")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGetStockPriceSingleObjectQuote(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"quotes": map[string]interface{}{
				"quote": map[string]interface{}{"symbol": "MSFT", "last": 412.5},
			},
		})
	})

	price, err := client.GetStockPrice(context.Background(), "msft")
	require.NoError(t, err)
	assert.InDelta(t, 412.5, price, 1e-9)
}

func TestGetStockPricesBatchSplitsChunks(t *testing.T) {
	var calls atomic.Int32
	var batchSizes []int

	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		symbols := strings.Split(r.URL.Query().Get("symbols"), ",")
		batchSizes = append(batchSizes, len(symbols))

		quotes := make([]map[string]interface{}, 0, len(symbols))
		for i, s := range symbols {
			quotes = append(quotes, map[string]interface{}{"symbol": s, "last": float64(i + 1)})
		}
		writeJSON(t, w, map[string]interface{}{
			"quotes": map[string]interface{}{"quote": quotes},
		})
	})

	tickers := make([]string, 130)
	for i := range tickers {
		tickers[i] = fmt.Sprintf("T%c%c", 'A'+i/26, 'A'+i%26)
	}

	prices, err := client.GetStockPricesBatch(context.Background(), tickers)
	require.NoError(t, err)

	assert.Len(t, prices, 130)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []int{100, 30}, batchSizes)
}

func TestGetDailyHistory(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "daily", r.URL.Query().Get("interval"))
		writeJSON(t, w, map[string]interface{}{
			"history": map[string]interface{}{
				"day": []map[string]interface{}{
					{"date": "2026-08-21", "open": 101, "high": 104, "low": 100, "close": 103, "volume": 1000},
					{"date": "2026-08-20", "open": 99, "high": 102, "low": 98, "close": 101, "volume": 900},
				},
			},
		})
	})

	bars, err := client.GetDailyHistory(context.Background(), "NVDA", "2026-08-20", "2026-08-21")
	require.NoError(t, err)

	require.Len(t, bars, 2)
	assert.Equal(t, "2026-08-20", bars[0].Date)
	assert.Equal(t, "2026-08-21", bars[1].Date)
}

func TestGetDailyHistorySingleDayObject(t *testing.T) {
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"history": map[string]interface{}{
				"day": map[string]interface{}{"date": "2026-08-21", "open": 101, "high": 104, "low": 100, "close": 103, "volume": 1000},
			},
		})
	})

	bars, err := client.GetDailyHistory(context.Background(), "NVDA", "2026-08-21", "2026-08-21")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 103.0, bars[0].Close, 1e-9)
}

func TestFetchRetriesOnServerError(t *testing.T) {
	oldWait := retryBaseWait
	retryBaseWait = time.Millisecond
	t.Cleanup(func() { retryBaseWait = oldWait })

	var calls atomic.Int32
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]interface{}{
			"quotes": map[string]interface{}{
				"quote": map[string]interface{}{"symbol": "NVDA", "last": 100.0},
			},
		})
	})

	price, err := client.GetStockPrice(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, price, 1e-9)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchThrottledNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newOptionsClient(t, config.OptionsConfig{}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetStockPrice(context.Background(), "NVDA")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchBodyCapNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newOptionsClient(t, config.OptionsConfig{MaxBodySize: 64}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	})

	_, err := client.GetStockPrice(context.Background(), "NVDA")
	assert.ErrorContains(t, err, "size cap")
	assert.EqualValues(t, 1, calls.Load())
}
