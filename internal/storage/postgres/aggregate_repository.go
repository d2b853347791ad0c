// Package postgres persists pipeline output snapshots.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/reading"
)

const defaultAggregateTable = "recon_aggregates"

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("postgres: not found")

// AggregateRepository stores aggregate periods keyed by
// (subject_id, metric, granularity, time_key). Saving a period for an
// existing key replaces it: a rerun supersedes, never duplicates.
type AggregateRepository struct {
	db    *sql.DB
	table string
}

// AggregateOption configures the repository.
type AggregateOption func(*AggregateRepository)

// WithAggregateTable overrides the default table name.
func WithAggregateTable(table string) AggregateOption {
	return func(r *AggregateRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewAggregateRepository constructs a repository.
func NewAggregateRepository(db *sql.DB, opts ...AggregateOption) (*AggregateRepository, error) {
	if db == nil {
		return nil, errors.New("postgres: nil db")
	}
	repo := &AggregateRepository{db: db, table: defaultAggregateTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// SaveAll upserts a batch of periods in one transaction.
func (r *AggregateRepository) SaveAll(ctx context.Context, periods []aggregate.Period) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
INSERT INTO %s (subject_id, metric, granularity, time_key, period_start, period_end, sum, mean, peak, sample_count, anomaly_direction, anomaly_deviation)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (subject_id, metric, granularity, time_key) DO UPDATE SET
	period_start = EXCLUDED.period_start,
	period_end = EXCLUDED.period_end,
	sum = EXCLUDED.sum,
	mean = EXCLUDED.mean,
	peak = EXCLUDED.peak,
	sample_count = EXCLUDED.sample_count,
	anomaly_direction = EXCLUDED.anomaly_direction,
	anomaly_deviation = EXCLUDED.anomaly_deviation`, r.table)

	for _, p := range periods {
		timeKey, err := aggregate.TimeKey(p.Granularity(), p.Start())
		if err != nil {
			return err
		}
		var direction sql.NullString
		var deviation sql.NullFloat64
		if a, ok := p.Anomaly(); ok {
			direction = sql.NullString{String: a.Direction, Valid: true}
			deviation = sql.NullFloat64{Float64: a.Deviation, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query,
			p.SubjectID(),
			string(p.Metric()),
			string(p.Granularity()),
			timeKey,
			p.Start().UTC(),
			p.End().UTC(),
			p.Sum(),
			p.Mean(),
			p.Peak(),
			p.SampleCount(),
			direction,
			deviation,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByGranularityAndRange returns periods of one metric and granularity
// with period_start in [from, to), ordered by subject then start.
func (r *AggregateRepository) ListByGranularityAndRange(ctx context.Context, metric reading.Metric, g aggregate.Granularity, from, to time.Time) ([]aggregate.Period, error) {
	if !g.IsValid() {
		return nil, aggregate.ErrInvalidGranularity
	}

	query := fmt.Sprintf(`
SELECT subject_id, metric, granularity, period_start, sum, mean, peak, sample_count, anomaly_direction, anomaly_deviation
FROM %s
WHERE metric = $1
	AND granularity = $2
	AND period_start >= $3
	AND period_start < $4
ORDER BY subject_id ASC, period_start ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, string(metric), string(g), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []aggregate.Period
	for rows.Next() {
		var (
			subjectID   string
			metricStr   string
			granStr     string
			periodStart time.Time
			sum         float64
			mean        float64
			peak        float64
			sampleCount int
			direction   sql.NullString
			deviation   sql.NullFloat64
		)
		if err := rows.Scan(&subjectID, &metricStr, &granStr, &periodStart, &sum, &mean, &peak, &sampleCount, &direction, &deviation); err != nil {
			return nil, err
		}
		p, err := aggregate.NewPeriod(subjectID, reading.Metric(metricStr), aggregate.Granularity(granStr), periodStart.UTC(), sum, mean, peak, sampleCount)
		if err != nil {
			return nil, err
		}
		if direction.Valid {
			p = p.WithAnomaly(aggregate.Annotation{Direction: direction.String, Deviation: deviation.Float64})
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
