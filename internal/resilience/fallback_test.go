package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_TriesInOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr bool
	}{
		{name: "primary works", failing: nil, want: "primary"},
		{name: "primary fails", failing: map[string]bool{"primary": true}, want: "secondary"},
		{name: "first two fail", failing: map[string]bool{"primary": true, "secondary": true}, want: "tertiary"},
		{name: "all fail", failing: map[string]bool{"primary": true, "secondary": true, "tertiary": true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup("primary", "secondary", "tertiary")
			got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
				if tt.failing[v] {
					return "", errors.New(v + " down")
				}
				return v, nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
				for _, n := range fg.Names() {
					if !strings.Contains(err.Error(), n+" down") {
						t.Errorf("err %q does not mention %s", err, n)
					}
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup("primary", "secondary")
	var mu sync.Mutex
	calls := map[string]int{}
	fn := func(_ context.Context, v string) error {
		mu.Lock()
		calls[v]++
		mu.Unlock()
		if v == "primary" {
			return errTest
		}
		return nil
	}

	for range 2 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatal(err)
		}
	}
	if fg.States()["primary"] != StateOpen {
		t.Fatalf("primary state = %v, want open", fg.States()["primary"])
	}

	if err := fg.Execute(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
	if calls["primary"] != 2 {
		t.Errorf("primary calls = %d, want 2 (skipped while open)", calls["primary"])
	}
	if calls["secondary"] != 3 {
		t.Errorf("secondary calls = %d, want 3", calls["secondary"])
	}
}

func TestFallbackGroup_FinalErrorStopsWalk(t *testing.T) {
	t.Parallel()
	errFinal := errors.New("final")
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Final:          func(err error) bool { return errors.Is(err, errFinal) },
	})
	fg.AddFallback("secondary", "secondary")

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return errFinal
	})
	if err != errFinal {
		t.Fatalf("err = %v, want the final error unchanged", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only primary", called)
	}
	if fg.States()["primary"] != StateClosed {
		t.Error("final error tripped the breaker")
	}
}

func TestFallbackGroup_Cancelled(t *testing.T) {
	t.Parallel()
	fg := newGroup("primary", "secondary")
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		called = append(called, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only primary", called)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as ErrAllFailed")
	}
}

func TestFallbackGroup_OnResult(t *testing.T) {
	t.Parallel()
	var results []string
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		OnResult: func(provider string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			results = append(results, provider+"="+status)
		},
	})
	fg.AddFallback("secondary", "secondary")

	fn := func(_ context.Context, v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	}
	_ = fg.Execute(context.Background(), fn)
	_ = fg.Execute(context.Background(), fn) // primary now open: not reported

	want := []string{"primary=error", "secondary=ok", "secondary=ok"}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result %d = %q, want %q", i, results[i], want[i])
		}
	}
}
