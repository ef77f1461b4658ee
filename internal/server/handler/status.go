package handler

import (
	"net/http"
	"time"
)

// PoolStatsFunc reports the total and idle connections of a pool.
type PoolStatsFunc func() (total, idle int64)

// StatusHandler serves the process status: mode, uptime, signer, RPC
// breaker state and connection pool usage.
type StatusHandler struct {
	Mode      string
	Signer    string
	StartedAt time.Time

	Breaker func() string
	Pools   map[string]PoolStatsFunc
}

// NewStatusHandler creates a StatusHandler for the given mode.
func NewStatusHandler(mode, signer string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		Signer:    signer,
		StartedAt: startedAt,
		Pools:     map[string]PoolStatsFunc{},
	}
}

// GetStatus responds with the current process status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pools := make(map[string]map[string]int64, len(h.Pools))
	for name, stats := range h.Pools {
		total, idle := stats()
		pools[name] = map[string]int64{"total": total, "idle": idle}
	}

	breaker := "unknown"
	if h.Breaker != nil {
		breaker = h.Breaker()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"signer":         h.Signer,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"rpc_breaker":    breaker,
		"pools":          pools,
	})
}
