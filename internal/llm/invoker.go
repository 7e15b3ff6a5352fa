package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrTimeout marks a generation call that exceeded its per-call deadline.
var ErrTimeout = eris.New("llm: generation timed out")

// ErrShortResponse marks a structurally empty or implausibly short response.
// Upstream occasionally returns degraded output instead of an error; treating
// it as a retryable failure protects the pipeline from silently bad artifacts.
var ErrShortResponse = eris.New("llm: response empty or too short")

// ExhaustedError is returned after the final failed attempt. It carries the
// last underlying cause.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm: %d attempts exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// rateLimitMarkers are matched case-insensitively against error text to
// recognize rate-limit flavored failures from the generation backend.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"quota",
	"resource has been exhausted",
	"resource_exhausted",
}

// IsRateLimit reports whether err looks like a rate-limit rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// InvokerConfig tunes retry and spacing behavior.
type InvokerConfig struct {
	// MinInterval is the minimum spacing between consecutive calls through
	// this invoker, shared by every run that holds the same instance.
	MinInterval time.Duration
	// MaxAttempts bounds retries per Invoke call.
	MaxAttempts int
	// BaseBackoff seeds the exponential backoff applied on rate limits.
	BaseBackoff time.Duration
	// MaxBackoff caps a single backoff sleep.
	MaxBackoff time.Duration
	// RetryDelay is the fixed pause after non-rate-limit failures.
	RetryDelay time.Duration
	// MinResponseLen is the shortest generation output accepted as valid.
	MinResponseLen int
}

func (c InvokerConfig) withDefaults() InvokerConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.MinResponseLen <= 0 {
		c.MinResponseLen = 40
	}
	return c
}

// Invoker wraps a single external service with minimum inter-call spacing
// and bounded retries. One instance per external service; concurrent runs
// sharing an instance serialize on its spacing clock.
type Invoker struct {
	cfg InvokerConfig
	log *zap.Logger

	mu       sync.Mutex
	nextSlot time.Time

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// NewInvoker creates an invoker for one external service.
func NewInvoker(cfg InvokerConfig, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		cfg:   cfg.withDefaults(),
		log:   log.Named("invoker"),
		sleep: sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Invoke runs op with spacing and retries. It returns the operation's text on
// the first acceptable response, or an *ExhaustedError after the last attempt.
func (inv *Invoker) Invoke(ctx context.Context, op func(context.Context) (string, error)) (string, error) {
	cfg := inv.cfg
	var last error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := inv.awaitSlot(ctx); err != nil {
			return "", err
		}

		text, err := op(ctx)
		if err == nil && len(strings.TrimSpace(text)) < cfg.MinResponseLen {
			err = eris.Wrapf(ErrShortResponse, "got %d chars", len(strings.TrimSpace(text)))
		}
		if err == nil {
			return text, nil
		}
		last = err

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.RetryDelay
		if IsRateLimit(err) {
			delay = cfg.BaseBackoff << (attempt - 1)
			if delay > cfg.MaxBackoff {
				delay = cfg.MaxBackoff
			}
			delay += inv.jitter(cfg.BaseBackoff / 2)
		}
		inv.log.Warn("call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Bool("rate_limited", IsRateLimit(err)),
			zap.Error(err),
		)
		if err := inv.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", &ExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}

// awaitSlot reserves the next call slot on the shared spacing clock and
// sleeps until it arrives. Reserving before sleeping keeps concurrent runs
// from racing past each other into the same slot.
func (inv *Invoker) awaitSlot(ctx context.Context) error {
	inv.mu.Lock()
	now := time.Now()
	slot := inv.nextSlot
	if slot.Before(now) {
		slot = now
	}
	inv.nextSlot = slot.Add(inv.cfg.MinInterval)
	inv.mu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		return inv.sleep(ctx, wait)
	}
	return nil
}

// WithTimeout bounds op with deadline d and converts deadline expiry into
// ErrTimeout so callers can distinguish it from upstream failures.
func WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) (string, error)) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	text, err := op(tctx)
	if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return "", eris.Wrapf(ErrTimeout, "deadline %s", d)
	}
	return text, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
