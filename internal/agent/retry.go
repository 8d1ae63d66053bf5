package agent

import (
	"context"
	"time"
)

// Policy governs how failed agent invocations are retried. A request
// runs MaxRetries+1 times at most; the delay schedule extends past its
// last entry by adding two seconds per extra attempt.
type Policy struct {
	MaxRetries int
	Delays     []time.Duration

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is the standard retry schedule.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Delays:     []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}
}

// Delay returns the wait before retry attempt n (zero-based).
func (p Policy) Delay(n int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if n < len(p.Delays) {
		return p.Delays[n]
	}
	last := p.Delays[len(p.Delays)-1]
	return last + time.Duration(n-len(p.Delays)+1)*2*time.Second
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
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

// Do runs fn until it succeeds, returns a non-retryable failure, or the
// attempt budget is spent. The last response is always returned so the
// caller sees the final failure detail.
func (p Policy) Do(ctx context.Context, log func(attempt int, resp *PromptResponse), fn func(ctx context.Context) (*PromptResponse, error)) (*PromptResponse, error) {
	var resp *PromptResponse
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if werr := p.wait(ctx, p.Delay(attempt-1)); werr != nil {
				return resp, werr
			}
		}
		resp, err = fn(ctx)
		if err != nil {
			return resp, err
		}
		if resp.Success || !resp.RetryCode.Retryable() {
			return resp, nil
		}
		if log != nil {
			log(attempt, resp)
		}
	}
	return resp, nil
}
