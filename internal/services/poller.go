package services

import (
	"context"
	"time"

	"bountyWeb/internal/models"
)

type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// StatusFetcher returns the current status string of one payment.
type StatusFetcher func(ctx context.Context) (string, error)

// Poll fetches immediately and then once per interval until a terminal status
// is seen. It returns the last status, the number of fetches made, and
// models.ErrPollTimeout when the budget runs out. A cancelled ctx stops the
// wait at once and no further fetch is issued.
func Poll(ctx context.Context, cfg PollConfig, fetch StatusFetcher, onPoll func(attempt int, status string)) (string, int, error) {
	if cfg.MaxAttempts <= 0 {
		return "", 0, models.ErrPollTimeout
	}

	wait := time.NewTimer(cfg.Interval)
	wait.Stop()
	defer wait.Stop()

	var last string
	polls := 0
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait.Reset(cfg.Interval)
			select {
			case <-ctx.Done():
				return last, polls, ctx.Err()
			case <-wait.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return last, polls, err
		}

		status, err := fetch(ctx)
		polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, polls, ctxErr
			}
			return last, polls, err
		}
		last = status
		if onPoll != nil {
			onPoll(attempt, status)
		}
		if models.IsTerminalStatus(status) {
			return status, polls, nil
		}
	}
	return last, polls, models.ErrPollTimeout
}
