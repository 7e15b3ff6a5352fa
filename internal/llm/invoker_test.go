package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// newTestInvoker returns an invoker whose sleeps complete instantly but are
// recorded, with jitter pinned to zero for determinism.
func newTestInvoker(cfg InvokerConfig) (*Invoker, *[]time.Duration) {
	inv := NewInvoker(cfg, nil)
	slept := &[]time.Duration{}
	inv.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	inv.jitter = func(time.Duration) time.Duration { return 0 }
	return inv, slept
}

func TestInvokeReturnsFirstAcceptableResponse(t *testing.T) {
	t.Parallel()

	inv, _ := newTestInvoker(InvokerConfig{MinResponseLen: 5})
	calls := 0
	text, err := inv.Invoke(context.Background(), func(context.Context) (string, error) {
		calls++
		return "a perfectly fine answer", nil
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if text != "a perfectly fine answer" {
		t.Fatalf("unexpected text: %q", text)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestInvokeRetriesShortResponse(t *testing.T) {
	t.Parallel()

	inv, slept := newTestInvoker(InvokerConfig{
		MinResponseLen: 40,
		RetryDelay:     3 * time.Second,
	})
	calls := 0
	long := strings.Repeat("analysis ", 10)
	text, err := inv.Invoke(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "ok", nil
		}
		return long, nil
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if text != long {
		t.Fatalf("unexpected text: %q", text)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}

	// Exactly one retry pause, at the fixed non-rate-limit delay.
	found := false
	for _, d := range *slept {
		if d == 3*time.Second {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a fixed 3s retry delay in %v", *slept)
	}
}

func TestInvokeExponentialBackoffOnRateLimit(t *testing.T) {
	t.Parallel()

	inv, slept := newTestInvoker(InvokerConfig{
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  60 * time.Second,
	})
	calls := 0
	_, err := inv.Invoke(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("generate: HTTP 429 Too Many Requests")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected Attempts=3, got %d", exhausted.Attempts)
	}
	if !IsRateLimit(exhausted.Last) {
		t.Fatalf("expected rate-limited cause, got %v", exhausted.Last)
	}

	// Backoff doubles per attempt with jitter pinned to zero.
	var backoffs []time.Duration
	for _, d := range *slept {
		if d >= 5*time.Second {
			backoffs = append(backoffs, d)
		}
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(backoffs) != len(want) {
		t.Fatalf("expected backoffs %v, got %v", want, backoffs)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Fatalf("backoff %d: expected %v, got %v", i, want[i], backoffs[i])
		}
	}
}

func TestInvokeSpacesConsecutiveCalls(t *testing.T) {
	t.Parallel()

	inv, slept := newTestInvoker(InvokerConfig{
		MinInterval:    time.Hour,
		MinResponseLen: 1,
	})
	op := func(context.Context) (string, error) { return "some long enough text here", nil }

	if _, err := inv.Invoke(context.Background(), op); err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), op); err != nil {
		t.Fatalf("second Invoke: %v", err)
	}

	// The second call must wait out most of the spacing interval.
	var max time.Duration
	for _, d := range *slept {
		if d > max {
			max = d
		}
	}
	if max < 50*time.Minute {
		t.Fatalf("expected second call to wait near 1h, longest sleep was %v", max)
	}
}

func TestIsRateLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", errors.New("HTTP 429"), true},
		{"quota", errors.New("Quota exceeded for project"), true},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED"), true},
		{"too many requests", errors.New("too many requests, slow down"), true},
		{"plain failure", errors.New("connection refused"), false},
		{"timeout", ErrTimeout, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRateLimit(tc.err); got != tc.want {
				t.Fatalf("IsRateLimit(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWithTimeoutConvertsDeadline(t *testing.T) {
	t.Parallel()

	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWithTimeoutKeepsUpstreamError(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream boom")
	_, err := WithTimeout(context.Background(), time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestWithTimeoutPropagatesParentCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeout(ctx, time.Minute, func(c context.Context) (string, error) {
		<-c.Done()
		return "", c.Err()
	})
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("parent cancellation must not be reported as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
