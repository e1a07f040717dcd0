package resilience

import (
	"errors"
	"testing"
	"time"
)

// newTestGroup wires a two-backend group keyed by backend name.
func newTestGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("elevenlabs", "elevenlabs", FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback("coqui", "coqui")
	return fg
}

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	t.Parallel()

	fg := newTestGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	if err := fg.Execute(func(v string) error { served = v; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "elevenlabs" {
		t.Fatalf("served by %q, want elevenlabs", served)
	}
}

func TestFallbackGroup_FailoverOnError(t *testing.T) {
	t.Parallel()

	fg := newTestGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	err := fg.Execute(func(v string) error {
		if v == "elevenlabs" {
			return errTest
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "coqui" {
		t.Fatalf("served by %q, want coqui", served)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := newTestGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	t.Parallel()

	fg := newTestGroup(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	primaryCalls := 0
	failPrimary := func(v string) error {
		if v == "elevenlabs" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for i := 0; i < 2; i++ {
		_ = fg.Execute(failPrimary)
	}

	// The primary's breaker is now open; the call must land on the fallback
	// without touching the primary again.
	var served string
	if err := fg.Execute(func(v string) error { served = v; return failPrimary(v) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "coqui" {
		t.Fatalf("served by %q, want coqui", served)
	}
	if primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2", primaryCalls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := newTestGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		return "audio from " + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "audio from elevenlabs" {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()

	fg := newTestGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "elevenlabs" {
			return "", errTest
		}
		return "audio from " + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "audio from coqui" {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
