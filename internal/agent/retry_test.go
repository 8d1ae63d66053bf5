package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(t *testing.T) (Policy, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	p := DefaultPolicy()
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()

	// --- Configured schedule ---

	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 3*time.Second, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(2))

	// --- Extension past the schedule adds two seconds per attempt ---

	assert.Equal(t, 7*time.Second, p.Delay(3))
	assert.Equal(t, 9*time.Second, p.Delay(4))
}

func TestPolicyDo(t *testing.T) {
	ctx := context.Background()

	t.Run("retryable failure exhausts the attempt budget", func(t *testing.T) {
		p, slept := testPolicy(t)
		calls := 0
		resp, err := p.Do(ctx, nil, func(ctx context.Context) (*PromptResponse, error) {
			calls++
			return &PromptResponse{Output: "fail", RetryCode: RetryCodeCLIError}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, p.MaxRetries+1, calls)
		assert.Equal(t, []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}, *slept)
		// The last response is returned even on exhaustion.
		assert.Equal(t, "fail", resp.Output)
		assert.False(t, resp.Success)
	})

	t.Run("non-retryable failure stops after one attempt", func(t *testing.T) {
		p, slept := testPolicy(t)
		calls := 0
		resp, err := p.Do(ctx, nil, func(ctx context.Context) (*PromptResponse, error) {
			calls++
			return &PromptResponse{Output: "fatal", RetryCode: RetryCodeNone}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *slept)
		assert.Equal(t, "fatal", resp.Output)
	})

	t.Run("success after one retry", func(t *testing.T) {
		p, slept := testPolicy(t)
		calls := 0
		resp, err := p.Do(ctx, nil, func(ctx context.Context) (*PromptResponse, error) {
			calls++
			if calls == 1 {
				return &PromptResponse{RetryCode: RetryCodeTimeout}, nil
			}
			return &PromptResponse{Output: "done", Success: true}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, []time.Duration{1 * time.Second}, *slept)
		assert.True(t, resp.Success)
		assert.Equal(t, "done", resp.Output)
	})

	t.Run("retry log sees each failed attempt", func(t *testing.T) {
		p, _ := testPolicy(t)
		var logged []int
		_, err := p.Do(ctx, func(attempt int, resp *PromptResponse) {
			logged = append(logged, attempt)
		}, func(ctx context.Context) (*PromptResponse, error) {
			return &PromptResponse{RetryCode: RetryCodeMidRun}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, logged)
	})
}

func TestRetryCodeRetryable(t *testing.T) {
	assert.True(t, RetryCodeCLIError.Retryable())
	assert.True(t, RetryCodeTimeout.Retryable())
	assert.True(t, RetryCodeExecution.Retryable())
	assert.True(t, RetryCodeMidRun.Retryable())
	assert.False(t, RetryCodeNone.Retryable())
	assert.False(t, RetryCode("").Retryable())
}
