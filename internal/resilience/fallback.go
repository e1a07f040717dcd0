package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] either
// failed or sat behind an open breaker. For a turn this surfaces as a
// provider failure of the corresponding pipeline stage.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-backend circuit breaker a
// [FallbackGroup] creates for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and its configured fallbacks, each
// behind its own breaker. Calls go to the first entry whose breaker admits
// them; a failed call moves on to the next entry. Entries are fixed after
// construction, so the group is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry. Register
// further backends with [FallbackGroup.AddFallback] before serving traffic.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.entries = append(fg.entries, fg.newEntry(primaryName, primary))
	return fg
}

// AddFallback appends a backend tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fg.newEntry(name, fallback))
}

func (fg *FallbackGroup[T]) newEntry(name string, value T) fallbackEntry[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)}
}

// Execute runs fn against the entries in order until one call succeeds.
// Entries with an open breaker are skipped. When everything fails the last
// error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a value.
// It is a free function because Go methods cannot add type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open breaker", "provider", entry.name)
			continue
		}
		slog.Warn("backend failed, trying next",
			"provider", entry.name, "error", err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
