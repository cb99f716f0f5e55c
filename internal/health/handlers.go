package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// ready gates readiness during graceful shutdown: the server flips it off
// before draining so load balancers stop routing new work here.
var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles the readiness gate.
func SetReady(v bool) { ready.Store(v) }

// RedisPinger is the subset of the Redis client the probe needs.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// PricebookStatus reports the state of the loaded price workbook.
type PricebookStatus interface {
	Loaded() bool
	LoadedAt() time.Time
	LastError() error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Redis        RedisPinger
	Pricebook    PricebookStatus
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Redis             string `json:"redis"`
	Pricebook         string `json:"pricebook"`
	PricebookLoadedAt string `json:"pricebookLoadedAt,omitempty"`
}

// Ready reports readiness based on the Redis session store and the
// pricebook. A pricebook that never loaded degrades lookups but does not
// stop estimating, so it reports in the body without failing the probe.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	status := readiness{Redis: "ok", Pricebook: "ok"}
	healthy := true

	if h.Redis == nil {
		status.Redis = "not configured"
		healthy = false
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), h.redisTimeout())
		err := h.Redis.Ping(ctx)
		cancel()
		if err != nil {
			status.Redis = err.Error()
			healthy = false
		}
	}

	if h.Pricebook == nil || !h.Pricebook.Loaded() {
		status.Pricebook = "not loaded"
		if h.Pricebook != nil {
			if err := h.Pricebook.LastError(); err != nil {
				status.Pricebook = err.Error()
			}
		}
	} else if at := h.Pricebook.LoadedAt(); !at.IsZero() {
		status.PricebookLoadedAt = at.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
