// Package limiter provides per-user admission control: a sliding-window
// request throttle and a cap on in-flight generation jobs.
package limiter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrConcurrencyLimited = errors.New("concurrency limit exceeded")
)

// Limiter gates generation requests per user. Every successful TryStartJob
// must be paired with exactly one FinishJob.
type Limiter interface {
	CheckAndRecordRate(ctx context.Context, userID string) error
	TryStartJob(ctx context.Context, userID string) error
	FinishJob(ctx context.Context, userID string) error
}

type Settings struct {
	Window        time.Duration
	MaxRequests   int
	MaxConcurrent int
}

func DefaultSettings() Settings {
	return Settings{
		Window:        60 * time.Second,
		MaxRequests:   5,
		MaxConcurrent: 2,
	}
}
