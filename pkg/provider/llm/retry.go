package llm

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// RetryPolicy bounds local retries inside one backend. The attempt loop is
// fixed at 1+MaxRetries calls.
type RetryPolicy struct {
	MaxRetries int

	// Retryable selects the errors that earn a retry. Nil retries nothing.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries exactly once, on quota errors only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Retryable: IsQuotaError}
}

// Do runs attempt until it succeeds, fails with a non-retryable error, or
// the retry budget is spent. beforeRetry runs between attempts and receives
// the error that triggered the retry.
func (p RetryPolicy) Do(ctx context.Context, attempt func(context.Context) error, beforeRetry func(error)) error {
	var err error
	for i := 0; ; i++ {
		err = attempt(ctx)
		if err == nil {
			return nil
		}
		if i >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		if beforeRetry != nil {
			beforeRetry(err)
		}
	}
}

// Counters accumulates [Usage] for a backend.
type Counters struct {
	requests  atomic.Int64
	tokens    atomic.Int64
	rotations atomic.Int64
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Usage {
	return Usage{
		Requests:  c.requests.Load(),
		Tokens:    c.tokens.Load(),
		Rotations: c.rotations.Load(),
	}
}

// Invoke runs call against the ring's current client under policy. On a
// retryable error the ring is rotated before the next attempt. Every
// attempt counts as a request; only a successful one adds tokens.
func Invoke[C any](
	ctx context.Context,
	name string,
	ring *KeyRing[C],
	policy RetryPolicy,
	counters *Counters,
	call func(ctx context.Context, client C) (Completion, error),
) (Completion, error) {
	var out Completion
	err := policy.Do(ctx, func(ctx context.Context) error {
		client, _ := ring.Current()
		counters.requests.Add(1)
		c, err := call(ctx, client)
		if err != nil {
			return err
		}
		out = c
		return nil
	}, func(cause error) {
		idx := ring.Rotate()
		counters.rotations.Add(1)
		slog.Warn("llm: quota error, rotating credential",
			"backend", name,
			"key_index", idx,
			"key", ring.Hint(),
			"err", cause,
		)
	})
	if err != nil {
		return Completion{}, err
	}
	counters.tokens.Add(int64(out.Tokens))
	return out, nil
}
