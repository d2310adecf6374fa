package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/garp/internal/logger"
)

const (
	// DefaultDuplicateAttempts bounds DuplicateOutput retries
	DefaultDuplicateAttempts = 10
	// DefaultDuplicateBackoff is the pause between duplication attempts
	DefaultDuplicateBackoff = 100 * time.Millisecond
)

// RetryPolicy controls output duplication.
type RetryPolicy struct {
	OutputIndex int
	Attempts    int
	Backoff     time.Duration
}

// DefaultRetryPolicy duplicates output 0 with up to 10 attempts 100ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		OutputIndex: 0,
		Attempts:    DefaultDuplicateAttempts,
		Backoff:     DefaultDuplicateBackoff,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// sleep waits for d or until ctx is done.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// DuplicateOutput claims exclusive duplication of the policy's output on
// adapter. Duplication is the one acquisition step that is retried: the output
// may still be held by a previous session (possibly another process that exited
// uncleanly) or the display may be changing mode, and both usually clear within
// the retry window. There is no pause after the final attempt. When every
// attempt fails a *DuplicationExhaustedError is returned and nothing is held.
func DuplicateOutput(ctx context.Context, device Device, adapter Adapter, policy RetryPolicy) (Duplication, error) {
	log := logger.WithComponent("duplication")
	policy = policy.normalized()

	output, err := adapter.EnumOutput(policy.OutputIndex)
	if err != nil {
		return nil, fmt.Errorf("enumerate output %d: %w", policy.OutputIndex, err)
	}
	defer output.Release()

	var last error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		dup, err := output.Duplicate(device)
		if err == nil {
			log.Info().
				Int("output", policy.OutputIndex).
				Int("attempt", attempt).
				Msg("Screen duplication started")
			return dup, nil
		}
		last = err

		log.Warn().
			Err(err).
			Int("output", policy.OutputIndex).
			Int("attempt", attempt).
			Int("max_attempts", policy.Attempts).
			Msgf("Error duplicating output, attempt %d/%d", attempt, policy.Attempts)

		if attempt < policy.Attempts {
			if err := sleep(ctx, policy.Backoff); err != nil {
				return nil, fmt.Errorf("duplicate output %d: %w", policy.OutputIndex, err)
			}
		}
	}

	return nil, &DuplicationExhaustedError{
		Output:   policy.OutputIndex,
		Attempts: policy.Attempts,
		Last:     last,
	}
}
