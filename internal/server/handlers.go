package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/jobs"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
)

const maxAlertBody = 64 << 10

// handleHealth reports liveness: a database ping, cache occupancy, uptime.
// A failed ping degrades the status to 503 so the probe restarts us.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"cache":          s.kv.Stats(),
	}

	if err := s.db.Conn().PingContext(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Health check database ping failed")
		response["status"] = "degraded"
		response["database"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	response["database"] = "ok"

	s.writeJSON(w, http.StatusOK, response)
}

type systemStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	Goroutines int     `json:"goroutines"`
}

type statusResponse struct {
	Budget   budget.Status                     `json:"budget"`
	Breakers map[string]circuit.Stats          `json:"breakers"`
	Limiters map[string]ratelimit.LimiterStats `json:"limiters"`
	Jobs     []jobs.Result                     `json:"jobs"`
	System   systemStats                       `json:"system"`
}

// handleStatus is the operational dashboard: budget position, breaker and
// limiter state, last job results, and a host snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.budget.Status(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Budget status unavailable")
		s.writeError(w, http.StatusInternalServerError, "budget ledger unreadable")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		Budget:   status,
		Breakers: s.breakers.Stats(),
		Limiters: s.limits.Stats(),
		Jobs:     s.runner.LastResults(),
		System:   s.hostSnapshot(),
	})
}

// hostSnapshot samples CPU over 100ms to keep the endpoint fast. Sampling
// failures report zero rather than failing the status call.
func (s *Server) hostSnapshot() systemStats {
	stats := systemStats{Goroutines: runtime.NumGoroutine()}

	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to sample CPU usage")
	} else if len(pcts) > 0 {
		stats.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read memory statistics")
	} else {
		stats.MemPercent = vm.UsedPercent
	}
	return stats
}

type alertRequest struct {
	Ticker       string  `json:"ticker"`
	EarningsDate string  `json:"earnings_date"`
	Score        float64 `json:"score"`
	Text         string  `json:"text"`
}

// handleAlert ingests an operator alert as a manual sentiment record.
// Fail-closed: with no token configured the endpoint refuses everything.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if s.alertAuth.Token == "" {
		s.writeError(w, http.StatusServiceUnavailable, "alert ingest not configured")
		return
	}

	auth := r.Header.Get("Authorization")
	if auth != "Bearer "+s.alertAuth.Token {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req alertRequest
	body := http.MaxBytesReader(w, r.Body, maxAlertBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Ticker) == "" {
		s.writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if req.EarningsDate == "" {
		s.writeError(w, http.StatusBadRequest, "earnings_date is required")
		return
	}

	rec, err := s.sentiment.RecordManual(r.Context(), req.Ticker, req.EarningsDate, req.Score, req.Text)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", req.Ticker).Msg("Alert rejected")
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info().
		Str("ticker", rec.Ticker).
		Str("earnings_date", rec.EarningsDate).
		Msg("Alert recorded")
	s.writeJSON(w, http.StatusOK, rec)
}
