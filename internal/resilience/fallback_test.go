package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newStringGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newStringGroup(3)

	var called string
	err := fg.Execute(context.Background(), func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newStringGroup(3)

	var called string
	err := fg.Execute(context.Background(), func(v string) error {
		if v == "primary" {
			return errTest
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newStringGroup(3)

	err := fg.Execute(context.Background(), func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the last provider error", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := newStringGroup(2)

	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called string
	err := fg.Execute(context.Background(), func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary (primary circuit should be open)", called)
	}

	st := fg.Status()
	if len(st) != 2 || st[0].State != "open" || st[1].State != "closed" {
		t.Errorf("Status() = %+v", st)
	}
	if !fg.Available() {
		t.Error("Available() = false with a closed secondary")
	}
}

func TestFallbackGroup_AvailableFalseWhenAllOpen(t *testing.T) {
	fg := newStringGroup(1)
	_ = fg.Execute(context.Background(), func(string) error { return errTest })
	if fg.Available() {
		t.Error("Available() = true with every breaker open")
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	fg := newStringGroup(3)
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	err := fg.Execute(ctx, func(v string) error {
		calls = append(calls, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	tests := []struct {
		name    string
		failTen bool
		want    string
	}{
		{"primary answers", false, "from-10"},
		{"fallback answers", true, "from-20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExecuteWithResult(context.Background(), fg, func(v int) (string, error) {
				if v == 10 && tt.failTen {
					return "", errTest
				}
				if v == 10 {
					return "from-10", nil
				}
				return "from-20", nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.want {
				t.Fatalf("result = %q, want %q", result, tt.want)
			}
		})
	}
}
