// Package memory provides in-memory repositories for demo/testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/invoice"
	"energy-recon/internal/reading"
)

// AggregateRepository keeps aggregate periods in memory, keyed the same
// way as the Postgres implementation.
type AggregateRepository struct {
	mu   sync.RWMutex
	data map[string]aggregate.Period
}

// NewAggregateRepository constructs a repository.
func NewAggregateRepository() *AggregateRepository {
	return &AggregateRepository{data: make(map[string]aggregate.Period)}
}

func aggregateKey(p aggregate.Period) string {
	timeKey, _ := aggregate.TimeKey(p.Granularity(), p.Start())
	return p.SubjectID() + "|" + string(p.Metric()) + "|" + string(p.Granularity()) + "|" + timeKey
}

// SaveAll upserts a batch of periods.
func (r *AggregateRepository) SaveAll(ctx context.Context, periods []aggregate.Period) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range periods {
		r.data[aggregateKey(p)] = p
	}
	return nil
}

// ListByGranularityAndRange returns matching periods ordered by subject
// then start.
func (r *AggregateRepository) ListByGranularityAndRange(ctx context.Context, metric reading.Metric, g aggregate.Granularity, from, to time.Time) ([]aggregate.Period, error) {
	_ = ctx
	if !g.IsValid() {
		return nil, aggregate.ErrInvalidGranularity
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []aggregate.Period
	for _, p := range r.data {
		if p.Metric() != metric || p.Granularity() != g {
			continue
		}
		if p.Start().Before(from) || !p.Start().Before(to) {
			continue
		}
		out = append(out, p)
	}
	sortPeriods(out)
	return out, nil
}

func sortPeriods(ps []aggregate.Period) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].SubjectID() != ps[j].SubjectID() {
			return ps[i].SubjectID() < ps[j].SubjectID()
		}
		return ps[i].Start().Before(ps[j].Start())
	})
}

// InvoiceRepository keeps invoice records in memory.
type InvoiceRepository struct {
	mu   sync.RWMutex
	data map[string]invoice.Record
}

// NewInvoiceRepository constructs a repository.
func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{data: make(map[string]invoice.Record)}
}

// SaveAll upserts invoice records.
func (r *InvoiceRepository) SaveAll(ctx context.Context, records []invoice.Record) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.data[rec.ID()] = rec
	}
	return nil
}

// ListByPeriod returns invoices for a billing period ordered by location.
func (r *InvoiceRepository) ListByPeriod(ctx context.Context, billingPeriod time.Time) ([]invoice.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []invoice.Record
	for _, rec := range r.data {
		if rec.BillingPeriod().Equal(billingPeriod) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Location() < out[j].Location() })
	return out, nil
}
