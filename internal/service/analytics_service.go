package service

import (
	"context"
	"fmt"
	"time"

	"github.com/digkill/leadmail/internal/models"
)

const (
	defaultSeriesLimit = 14
	maxSeriesLimit     = 200
)

var periodSteps = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

type purchaseRanger interface {
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]models.CreditPurchase, error)
}

type AnalyticsService struct {
	purchases purchaseRanger
	now       func() time.Time
}

type CreditSeries struct {
	Period string                `json:"period"`
	Limit  int                   `json:"limit"`
	Series []models.CreditBucket `json:"series"`
}

func NewAnalyticsService(purchases purchaseRanger) *AnalyticsService {
	return &AnalyticsService{purchases: purchases, now: time.Now}
}

// ClampLimit maps a requested bucket count onto 1..200; zero means the
// default of 14.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return defaultSeriesLimit
	case limit < 1:
		return 1
	case limit > maxSeriesLimit:
		return maxSeriesLimit
	default:
		return limit
	}
}

// Credits sums purchased credits into the last limit buckets of period,
// ending with the bucket that contains now. Buckets are aligned in UTC.
func (s *AnalyticsService) Credits(ctx context.Context, userID, period string, limit int) (*CreditSeries, error) {
	if userID == "" {
		return nil, &ValidationError{Violations: []string{"userId is required"}}
	}
	if period == "" {
		period = "day"
	}
	step, ok := periodSteps[period]
	if !ok {
		return nil, &ValidationError{Violations: []string{fmt.Sprintf("invalid period %q", period)}}
	}
	limit = ClampLimit(limit)

	end := s.now().UTC().Truncate(step)
	start := end.Add(-time.Duration(limit-1) * step)

	purchases, err := s.purchases.ListRange(ctx, userID, start, end.Add(step))
	if err != nil {
		return nil, err
	}

	totals := make(map[int64]int, len(purchases))
	for _, p := range purchases {
		totals[p.CreatedAt.UTC().Truncate(step).Unix()] += p.Credits
	}

	series := make([]models.CreditBucket, 0, limit)
	for i := 0; i < limit; i++ {
		bucket := start.Add(time.Duration(i) * step)
		series = append(series, models.CreditBucket{BucketStart: bucket, Credits: totals[bucket.Unix()]})
	}
	return &CreditSeries{Period: period, Limit: limit, Series: series}, nil
}
