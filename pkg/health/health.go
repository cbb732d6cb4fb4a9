// Package health serves the /livez and /readyz probes for the POS server.
//
// Registered checks are polled by a single background goroutine. A check
// flips unhealthy only after three consecutive failures and recovers on the
// first success, so one slow database ping during a checkout rush does not
// drop the instance out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const failureThreshold = 3

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	// fails and lastErr are guarded by the owning Health's mutex.
	fails   int
	lastErr error
}

func (c *check) unhealthy() bool { return c.fails >= failureThreshold }

// Health owns the probe state. The zero value is not ready; call SetReady
// once wiring is complete.
type Health struct {
	mu        sync.Mutex
	ready     bool
	liveness  []*check
	readiness []*check
	stop      context.CancelFunc
}

// New creates an empty probe service.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a process-is-alive check (goroutine leaks,
// deadlocks). A failing liveness check asks the platform to restart us.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a can-serve-traffic check (database
// connectivity). A failing readiness check only takes us out of rotation.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &check{name: name, timeout: timeout, fn: fn})
}

// Start polls all registered checks at the given interval until the context
// is cancelled or Stop is called. Register checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.stop = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.poll(ctx)
			}
		}
	}()
}

// poll runs every check once. The check functions run outside the lock so a
// hung dependency cannot block the probe endpoints.
func (h *Health) poll(ctx context.Context) {
	h.mu.Lock()
	checks := make([]*check, 0, len(h.liveness)+len(h.readiness))
	checks = append(checks, h.liveness...)
	checks = append(checks, h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(checkCtx)
		cancel()

		h.mu.Lock()
		if err != nil {
			c.fails++
			c.lastErr = err
		} else {
			c.fails = 0
			c.lastErr = nil
		}
		h.mu.Unlock()
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it false
// first so the load balancer drains before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the manual gate is open and every readiness check
// is passing.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.ready {
		return false
	}
	for _, c := range h.readiness {
		if c.unhealthy() {
			return false
		}
	}
	return true
}

// Stop halts polling. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness check passes, 503
// with the failing checks otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	failures := failing(h.liveness)
	h.mu.Unlock()

	writeProbe(w, failures)
}

// ReadyEndpoint serves /readyz: 200 while the manual gate is open and every
// readiness check passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	failures := failing(h.readiness)
	if !h.ready {
		failures["_readiness"] = "service is not ready"
	}
	h.mu.Unlock()

	writeProbe(w, failures)
}

// failing reports the unhealthy checks by name. Caller holds the lock.
func failing(checks []*check) map[string]string {
	failures := make(map[string]string)
	for _, c := range checks {
		if !c.unhealthy() {
			continue
		}
		if c.lastErr != nil {
			failures[c.name] = c.lastErr.Error()
		} else {
			failures[c.name] = "check is unhealthy"
		}
	}
	return failures
}

func writeProbe(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := probeResponse{Status: "ok"}
	status := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
