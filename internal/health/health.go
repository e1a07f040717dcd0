// Package health serves the liveness and readiness probes for the voice
// assistant server.
//
//   - /healthz reports liveness: a process that can answer HTTP is alive.
//   - /readyz reports readiness: 200 only while every registered dependency
//     check passes. The app wires a providers check (pipeline wiring sanity)
//     and, when retrieval is enabled, a database ping.
//
// Both endpoints answer JSON with a top-level "status" of "ok" or "fail";
// /readyz additionally carries a "checks" map with one entry per dependency,
// so an operator can see which one is down without reading logs.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout caps one readiness check. A hanging dependency must flip the
// probe to failing instead of stalling it.
const checkTimeout = 5 * time.Second

// Checker is one named dependency check. Check returns nil while the
// dependency is usable and must respect context cancellation.
type Checker struct {
	// Name keys the check's entry in the /readyz response, e.g. "database".
	Name string

	Check func(ctx context.Context) error
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the two probe endpoints. The checker list is fixed at
// construction; the handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers on every /readyz
// request, in order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz answers 200 while every checker passes and 503 otherwise. Each
// checker runs under a checkTimeout deadline derived from the request
// context; a failing check's error text lands in the checks map.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}

	res := response{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
