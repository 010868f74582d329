// Package retry computes full-jitter exponential backoff delays and decides
// whether another transmission pass may run.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
)

// Policy defines retry behavior. Attempts are counted from 0 and the
// policy permits at most MaxAttempts passes in total.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// State is the attempt counter of one SendBatch call. It is shared by
// whole-operation and subset retries.
type State struct {
	Attempt int
	Delay   time.Duration
}

// NewPolicy creates a full-jitter exponential backoff policy.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DefaultPolicy returns the default policy: 5 attempts, 100ms base delay,
// 30s cap.
func DefaultPolicy() *Policy {
	return NewPolicy(5, 100*time.Millisecond, 30*time.Second)
}

// NoRetryPolicy returns a policy that permits a single pass.
func NoRetryPolicy() *Policy {
	return NewPolicy(1, 0, 0)
}

// WithSeed makes delays reproducible.
func (p *Policy) WithSeed(seed int64) *Policy {
	p.mu.Lock()
	p.rnd = rand.New(rand.NewSource(seed))
	p.mu.Unlock()
	return p
}

// Ceiling returns min(MaxDelay, BaseDelay * 2^attempt), the upper bound of
// the jittered delay for attempt.
func (p *Policy) Ceiling(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	ceiling := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && ceiling > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if ceiling > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ceiling)
}

// Delay returns a uniformly random duration in [0, Ceiling(attempt)).
func (p *Policy) Delay(attempt int) time.Duration {
	ceiling := p.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(p.rnd.Int63n(int64(ceiling)))
}

// Next advances st after a failed pass. It returns an ErrorTypeRetryExhausted
// error wrapping lastErr once MaxAttempts passes have run; otherwise it sets
// st.Delay to the wait before the next pass.
func (p *Policy) Next(st *State, lastErr error) error {
	st.Attempt++
	if st.Attempt >= p.maxAttempts() {
		st.Delay = 0
		return ingesterrors.Wrap(orUnknown(lastErr), ingesterrors.ErrorTypeRetryExhausted,
			fmt.Sprintf("gave up after %d attempts", st.Attempt)).
			WithDetail("attempts", st.Attempt)
	}
	st.Delay = p.Delay(st.Attempt - 1)
	return nil
}

// ShouldRetry reports whether err is worth another pass.
func (p *Policy) ShouldRetry(err error) bool {
	return Classify(err) == Retryable
}

func (p *Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func orUnknown(err error) error {
	if err == nil {
		return fmt.Errorf("unknown failure")
	}
	return err
}
