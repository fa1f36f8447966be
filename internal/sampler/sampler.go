// Package sampler draws a bounded random sample of conversations from the
// store using a single Bernoulli pass.
package sampler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/blackwell-systems/chatlens/internal/chats"
	"github.com/blackwell-systems/chatlens/internal/config"
	"github.com/blackwell-systems/chatlens/internal/source"
)

const (
	// oversample inflates the requested size so a Bernoulli draw, whose
	// yield varies, still usually returns at least limit rows.
	oversample = 3

	// fallbackEstimate is used when the store returns no row estimate.
	fallbackEstimate = 1000

	minPercent = 0.1
	maxPercent = 100.0
)

// Sampler retrieves conversation samples from one table.
type Sampler struct {
	src   source.Source
	table config.Table
	log   *zap.Logger
}

// New returns a Sampler reading table through src.
func New(src source.Source, table config.Table, log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{src: src, table: table, log: log}
}

// Sample returns up to limit randomly chosen conversations. Unless
// includeEmpty is set, rows whose message list is null or empty are
// filtered out by the store. Returning fewer than limit records is normal.
func (s *Sampler) Sample(ctx context.Context, limit int, includeEmpty bool) ([]chats.Record, error) {
	if limit <= 0 {
		return []chats.Record{}, nil
	}

	estimated, err := s.estimate(ctx)
	if err != nil {
		return nil, err
	}

	pct := SamplePercent(limit*oversample, estimated)
	s.log.Info("sampling conversations",
		zap.String("table", s.table.Name),
		zap.Int64("estimated_rows", estimated),
		zap.Float64("percent", pct),
		zap.Int("limit", limit),
		zap.Bool("include_empty", includeEmpty),
	)

	q, args, err := s.src.Dialect().Sample(source.SampleQuery{
		Table:          s.table.Name,
		MessagesColumn: s.table.Messages,
		Percent:        pct,
		Limit:          limit,
		ExcludeEmpty:   !includeEmpty,
	})
	if err != nil {
		return nil, err
	}

	t, err := s.src.Run(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", s.table.Name, err)
	}

	records, err := chats.ParseRecords(t.Columns, t.Rows, s.table.Columns)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing sample: %w", source.ErrQuery, err)
	}
	if len(records) > limit {
		records = records[:limit]
	}

	s.log.Info("sample retrieved", zap.Int("retrieved", len(records)))
	return records, nil
}

// estimate returns the approximate row count of the table, or
// fallbackEstimate when the store has no figure for it.
func (s *Sampler) estimate(ctx context.Context) (int64, error) {
	q, args, err := s.src.Dialect().EstimateRows(s.table.Name)
	if err != nil {
		return 0, err
	}
	t, err := s.src.Run(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("estimating rows of %s: %w", s.table.Name, err)
	}
	if t.Len() == 0 || len(t.Rows[0]) == 0 {
		s.log.Debug("no row estimate, using fallback", zap.Int("fallback", fallbackEstimate))
		return fallbackEstimate, nil
	}
	n, ok := toInt64(t.Rows[0][0])
	if !ok {
		return fallbackEstimate, nil
	}
	return n, nil
}

// SamplePercent returns the Bernoulli percentage expected to yield target
// rows out of estimated, clamped to [0.1, 100]. An unknown or empty table
// is sampled in full.
func SamplePercent(target int, estimated int64) float64 {
	if estimated <= 0 {
		return maxPercent
	}
	pct := float64(target) / float64(estimated) * 100
	if pct < minPercent {
		return minPercent
	}
	if pct > maxPercent {
		return maxPercent
	}
	return pct
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
