// Package pipeline wires the reconciliation stages into one forward-only run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/anomaly"
	"energy-recon/internal/ingest"
	"energy-recon/internal/invoice"
	"energy-recon/internal/normalize"
	"energy-recon/internal/observability/metrics"
	"energy-recon/internal/pricing"
	"energy-recon/internal/reading"
	"energy-recon/internal/reconcile"
	"energy-recon/internal/timezone"
	"energy-recon/internal/validate"
)

// LedgerSourceID is the reserved source id for the purchase ledger.
const LedgerSourceID = "fuel-ledger"

var (
	ErrNoUsableData        = errors.New("pipeline: no source produced usable readings")
	ErrIndispensableSource = errors.New("pipeline: indispensable source unusable")
)

// Clock provides time for run stamps.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Result is one run's immutable output snapshot.
type Result struct {
	// RecordsByLocation holds reconciled consumption per billing location.
	RecordsByLocation map[string][]reconcile.Record
	// Aggregates holds every granularity, anomaly-annotated.
	Aggregates []aggregate.Period
	Invoices   []invoice.Record
	// Audit retains rejected readings per source with reasons.
	Audit    map[string][]validate.AuditEntry
	Manifest Manifest
}

// Runner executes the pipeline: normalize, align, validate, reconcile,
// detect, aggregate, invoice. Stages are pure transforms over immutable
// inputs, so concurrent runs need no coordination.
type Runner struct {
	cfg      Config
	aligner  *timezone.Aligner
	detector *anomaly.Detector
	logger   *log.Logger
	metrics  *metrics.Metrics
	clock    Clock
	newID    func() string
}

// RunnerOption configures a runner.
type RunnerOption func(*Runner)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithClock overrides the run clock, for reproducible output.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDGenerator overrides run id generation, for reproducible output.
func WithIDGenerator(fn func() string) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRunner constructs a runner.
func NewRunner(cfg Config, logger *log.Logger, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("pipeline: nil logger")
	}
	aligner, err := timezone.NewAligner(cfg.CanonicalZone)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     cfg,
		aligner: aligner,
		detector: anomaly.NewDetector(
			anomaly.WithWindow(cfg.Anomaly.Window),
			anomaly.WithThreshold(cfg.Anomaly.Threshold),
			anomaly.WithMinSamples(cfg.Anomaly.MinSamples),
		),
		logger: logger,
		clock:  SystemClock{},
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the pipeline over fetched payloads. Partial failures
// degrade coverage and are reported in the manifest; the run only fails
// when an indispensable source is unusable or nothing parses at all.
func (r *Runner) Run(ctx context.Context, fetched ingest.Result) (Result, error) {
	started := r.clock.Now()
	res := Result{
		RecordsByLocation: make(map[string][]reconcile.Record),
		Audit:             make(map[string][]validate.AuditEntry),
		Manifest: Manifest{
			RunID:            r.newID(),
			ConfigVersion:    r.cfg.Version,
			StartedAt:        started,
			Availability:     fetched.Availability,
			RowErrors:        make(map[string]int),
			RejectedReadings: make(map[string]map[validate.Reason]int),
		},
	}

	purchases, err := r.normalizeLedger(fetched, &res.Manifest)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	fuelByLocation := make(map[string][]reading.Reading)
	reportedByLocation := make(map[string][]reading.Reading)
	var meterReadings []reading.Reading

	for _, src := range r.cfg.Sources {
		valid, ok, err := r.prepareSource(src, fetched, &res)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		switch src.SourceRole() {
		case RoleFuelLevel:
			fuelByLocation[src.Location] = append(fuelByLocation[src.Location], valid...)
		case RoleReportedConsumption:
			reportedByLocation[src.Location] = append(reportedByLocation[src.Location], valid...)
		default:
			meterReadings = append(meterReadings, valid...)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if len(fuelByLocation) == 0 && len(reportedByLocation) == 0 && len(meterReadings) == 0 && len(purchases) == 0 {
		return Result{}, ErrNoUsableData
	}

	if err := r.reconcileLocations(ctx, purchases, fuelByLocation, reportedByLocation, &res); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := r.aggregateAll(meterReadings, &res); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := r.generateInvoices(&res); err != nil {
		return Result{}, err
	}

	res.Manifest.FinishedAt = r.clock.Now()
	r.observe(res, started)
	return res, nil
}

func (r *Runner) normalizeLedger(fetched ingest.Result, m *Manifest) ([]reading.PurchaseEvent, error) {
	payload, ok := fetched.Payloads[LedgerSourceID]
	if !ok {
		if r.cfg.Ledger.Path != "" {
			m.SkippedSources = append(m.SkippedSources, SourceIssue{
				SourceID: LedgerSourceID,
				Stage:    "fetch",
				Reason:   fetchReason(fetched, LedgerSourceID),
			})
		}
		return nil, nil
	}

	ledgerRes, err := normalize.NormalizeLedger(r.cfg.Ledger.Descriptor(), payload)
	m.RowErrors[LedgerSourceID] = len(ledgerRes.RowErrors)
	if err != nil {
		m.SkippedSources = append(m.SkippedSources, SourceIssue{
			SourceID:     LedgerSourceID,
			Stage:        "normalize",
			Reason:       err.Error(),
			RejectedRows: len(ledgerRes.RowErrors),
		})
		return nil, nil
	}

	aligned, err := r.aligner.AlignPurchases(ledgerRes.Events, r.cfg.Ledger.Timezone.Policy())
	if err != nil {
		m.SkippedSources = append(m.SkippedSources, SourceIssue{
			SourceID: LedgerSourceID,
			Stage:    "timezone",
			Reason:   err.Error(),
		})
		return nil, nil
	}
	return aligned, nil
}

// prepareSource runs one source through normalize, align, validate.
// Returns ok=false when the source was skipped non-fatally.
func (r *Runner) prepareSource(src SourceConfig, fetched ingest.Result, res *Result) ([]reading.Reading, bool, error) {
	skip := func(stage, reason string, rejected int) ([]reading.Reading, bool, error) {
		res.Manifest.SkippedSources = append(res.Manifest.SkippedSources, SourceIssue{
			SourceID:     src.ID,
			Stage:        stage,
			Reason:       reason,
			RejectedRows: rejected,
		})
		if src.Indispensable {
			return nil, false, fmt.Errorf("%w: %s (%s: %s)", ErrIndispensableSource, src.ID, stage, reason)
		}
		r.logger.Printf("pipeline: skipping source %s at %s: %s", src.ID, stage, reason)
		return nil, false, nil
	}

	payload, ok := fetched.Payloads[src.ID]
	if !ok {
		return skip("fetch", fetchReason(fetched, src.ID), 0)
	}

	normRes, err := normalize.Normalize(src.Descriptor(), payload)
	res.Manifest.RowErrors[src.ID] = len(normRes.RowErrors)
	if err != nil {
		return skip("normalize", err.Error(), len(normRes.RowErrors))
	}

	aligned, err := r.aligner.AlignAll(normRes.Readings, src.Timezone.Policy())
	if err != nil {
		return skip("timezone", err.Error(), 0)
	}

	valRes, err := validate.Apply(aligned, src.Rule.Rule())
	res.Audit[src.ID] = valRes.Audit
	byReason := make(map[validate.Reason]int)
	for _, entry := range valRes.Audit {
		byReason[entry.Reason]++
	}
	if len(byReason) > 0 {
		res.Manifest.RejectedReadings[src.ID] = byReason
	}
	if err != nil {
		return skip("validate", err.Error(), len(valRes.Audit))
	}

	valid := valRes.Valid
	if src.Cumulative {
		valid, err = aggregate.DifferenceCumulative(valid)
		if err != nil {
			return skip("validate", err.Error(), len(valRes.Audit))
		}
		if len(valid) == 0 {
			return skip("validate", "cumulative source needs two readings", len(valRes.Audit))
		}
	}
	return valid, true, nil
}

func (r *Runner) reconcileLocations(ctx context.Context, purchases []reading.PurchaseEvent, fuel, reported map[string][]reading.Reading, res *Result) error {
	seen := make(map[string]bool)
	for loc := range fuel {
		seen[loc] = true
	}
	for loc := range reported {
		seen[loc] = true
	}
	if len(seen) == 0 {
		return nil
	}
	// Deterministic order keeps rerun output byte-identical.
	locations := make([]string, 0, len(seen))
	for loc := range seen {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	fallback, err := decimal.NewFromString(r.cfg.FallbackPriceZAR)
	if err != nil {
		return fmt.Errorf("pipeline: fallback price: %w", err)
	}
	fixed, err := pricing.NewFixedProvider(fallback)
	if err != nil {
		return err
	}
	prices := pricing.Chain{pricing.NewLedgerProvider(purchases), fixed}

	opts := []reconcile.Option{reconcile.WithTolerance(r.cfg.Tolerance())}
	if r.cfg.RefillSpanHours > 0 {
		opts = append(opts, reconcile.WithRefillSpan(time.Duration(r.cfg.RefillSpanHours)*time.Hour))
	}
	engine, err := reconcile.NewEngine(prices, opts...)
	if err != nil {
		return err
	}

	for _, loc := range locations {
		var locPurchases []reading.PurchaseEvent
		for _, ev := range purchases {
			if ev.Location() == loc {
				locPurchases = append(locPurchases, ev)
			}
		}

		periods := r.dailyPeriods(fuel[loc], reported[loc], locPurchases)
		if len(periods) == 0 {
			continue
		}

		records, err := engine.Reconcile(ctx, reconcile.Input{
			Location:   loc,
			FuelLevels: fuel[loc],
			Purchases:  locPurchases,
			Reported:   reported[loc],
		}, periods)
		if err != nil {
			return err
		}
		res.RecordsByLocation[loc] = records

		for _, rec := range records {
			flag := PeriodFlag{
				Location:       loc,
				PeriodStart:    rec.PeriodStart(),
				PeriodEnd:      rec.PeriodEnd(),
				SensorLiters:   rec.SensorEstimate().Liters,
				LedgerLiters:   rec.LedgerEstimate().Liters,
				UsedLiters:     rec.LitersConsumed(),
				PriceEstimated: rec.PriceEstimated(),
			}
			if rec.FlaggedForReview() {
				res.Manifest.ReviewPeriods = append(res.Manifest.ReviewPeriods, flag)
			}
			if rec.PriceEstimated() {
				res.Manifest.PriceEstimatedPeriods = append(res.Manifest.PriceEstimatedPeriods, flag)
			}
		}
	}
	return nil
}

// dailyPeriods spans the location's observed data, day by day in the
// canonical zone.
func (r *Runner) dailyPeriods(fuel, reported []reading.Reading, purchases []reading.PurchaseEvent) []reconcile.Period {
	var earliest, latest time.Time
	observe := func(ts time.Time) {
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
		if latest.IsZero() || ts.After(latest) {
			latest = ts
		}
	}
	for _, rd := range fuel {
		observe(rd.Timestamp())
	}
	for _, rd := range reported {
		observe(rd.Timestamp())
	}
	for _, ev := range purchases {
		observe(ev.Timestamp())
	}
	if earliest.IsZero() {
		return nil
	}

	start, err := aggregate.BucketStart(aggregate.GranularityDay, earliest.In(r.aligner.Canonical()))
	if err != nil {
		return nil
	}
	var out []reconcile.Period
	for cur := start; !cur.After(latest); cur = cur.AddDate(0, 0, 1) {
		out = append(out, reconcile.Period{Start: cur, End: cur.AddDate(0, 0, 1)})
	}
	return out
}

func (r *Runner) aggregateAll(meterReadings []reading.Reading, res *Result) error {
	var all []aggregate.Period

	if len(meterReadings) > 0 {
		hourly, err := aggregate.Aggregate(meterReadings, aggregate.GranularityHour)
		if err != nil {
			return err
		}
		daily, err := aggregate.Aggregate(meterReadings, aggregate.GranularityDay)
		if err != nil {
			return err
		}
		weekly, err := aggregate.Rollup(daily, aggregate.GranularityWeek)
		if err != nil {
			return err
		}
		monthly, err := aggregate.Rollup(daily, aggregate.GranularityMonth)
		if err != nil {
			return err
		}
		all = append(all, hourly...)
		all = append(all, daily...)
		all = append(all, weekly...)
		all = append(all, monthly...)
	}

	locations := make([]string, 0, len(res.RecordsByLocation))
	for loc := range res.RecordsByLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)
	for _, loc := range locations {
		liters, cost, err := aggregate.FromRecords(res.RecordsByLocation[loc], loc+"/fuel")
		if err != nil {
			return err
		}
		for _, daily := range [][]aggregate.Period{liters, cost} {
			if len(daily) == 0 {
				continue
			}
			weekly, err := aggregate.Rollup(daily, aggregate.GranularityWeek)
			if err != nil {
				return err
			}
			monthly, err := aggregate.Rollup(daily, aggregate.GranularityMonth)
			if err != nil {
				return err
			}
			all = append(all, daily...)
			all = append(all, weekly...)
			all = append(all, monthly...)
		}
	}

	annotated := r.detector.Annotate(all)
	for _, p := range annotated {
		if a, ok := p.Anomaly(); ok {
			res.Manifest.Anomalies = append(res.Manifest.Anomalies, AnomalyFlag{
				SubjectID:   p.SubjectID(),
				Metric:      p.Metric(),
				Granularity: p.Granularity(),
				PeriodStart: p.Start(),
				Deviation:   a.Deviation,
				Direction:   a.Direction,
			})
		}
	}
	res.Aggregates = annotated
	return nil
}

func (r *Runner) generateInvoices(res *Result) error {
	if len(r.cfg.Billing.Locations) == 0 {
		return nil
	}

	tariff, err := r.tariff()
	if err != nil {
		return err
	}
	calc, err := invoice.NewCalculator(tariff, invoiceClock{r.clock})
	if err != nil {
		return err
	}

	// Billable units per (month, location) from monthly energy aggregates.
	monthlySums := make(map[time.Time]map[string]float64)
	for _, p := range res.Aggregates {
		if p.Granularity() != aggregate.GranularityMonth || p.Metric() != reading.MetricEnergyKWh {
			continue
		}
		for loc, sourceIDs := range r.cfg.Billing.Locations {
			for _, id := range sourceIDs {
				if p.SubjectID() != id {
					continue
				}
				byLoc := monthlySums[p.Start()]
				if byLoc == nil {
					byLoc = make(map[string]float64)
					monthlySums[p.Start()] = byLoc
				}
				byLoc[loc] += p.Sum()
			}
		}
	}

	overrides, err := r.overrides()
	if err != nil {
		return err
	}

	months := make([]time.Time, 0, len(monthlySums))
	for month := range monthlySums {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	for _, month := range months {
		units := monthlySums[month]
		// Every billing location appears on the invoice, zero when the
		// month had no data for it, so overrides always have a target.
		for loc := range r.cfg.Billing.Locations {
			if _, ok := units[loc]; !ok {
				units[loc] = 0
			}
		}
		records, err := calc.Generate(invoice.Inputs{
			BillingPeriod:   month,
			UnitsByLocation: units,
			Overrides:       overrides,
		})
		if err != nil {
			return err
		}
		res.Invoices = append(res.Invoices, records...)
	}
	return nil
}

func (r *Runner) tariff() (invoice.Tariff, error) {
	parse := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	rate, err := parse(r.cfg.Billing.EnergyRateZAR)
	if err != nil {
		return invoice.Tariff{}, fmt.Errorf("pipeline: energy rate: %w", err)
	}
	service, err := parse(r.cfg.Billing.ServiceChargeZAR)
	if err != nil {
		return invoice.Tariff{}, fmt.Errorf("pipeline: service charge: %w", err)
	}
	vat, err := parse(r.cfg.Billing.VATPercent)
	if err != nil {
		return invoice.Tariff{}, fmt.Errorf("pipeline: vat percent: %w", err)
	}
	return invoice.Tariff{EnergyRateZAR: rate, ServiceChargeZAR: service, VATPercent: vat}, nil
}

func (r *Runner) overrides() ([]invoice.Override, error) {
	out := make([]invoice.Override, 0, len(r.cfg.Overrides))
	for _, o := range r.cfg.Overrides {
		period, err := time.ParseInLocation("2006-01", o.Period, r.aligner.Canonical())
		if err != nil {
			return nil, fmt.Errorf("pipeline: override period %q: %w", o.Period, err)
		}
		out = append(out, invoice.Override{
			Location:      o.Location,
			BillingPeriod: period,
			Units:         o.Units,
		})
	}
	return out, nil
}

func (r *Runner) observe(res Result, started time.Time) {
	unavailable := 0
	for _, st := range res.Manifest.Availability {
		if !st.Available {
			unavailable++
		}
	}
	r.logger.Printf("pipeline: run %s done: %d aggregates, %d invoices, %d review periods, %d rejected readings, %d sources unavailable",
		res.Manifest.RunID, len(res.Aggregates), len(res.Invoices), len(res.Manifest.ReviewPeriods), res.Manifest.RejectedTotal(), unavailable)

	if r.metrics == nil {
		return
	}
	r.metrics.RunsTotal.WithLabelValues("success").Inc()
	r.metrics.RunDuration.Observe(r.clock.Now().Sub(started).Seconds())
	for _, byReason := range res.Manifest.RejectedReadings {
		for reason, n := range byReason {
			r.metrics.RowsRejectedTotal.WithLabelValues(string(reason)).Add(float64(n))
		}
	}
	r.metrics.SourcesUnavailable.Set(float64(unavailable))
	r.metrics.LowConfidencePeriods.Set(float64(len(res.Manifest.ReviewPeriods)))
	r.metrics.AnomaliesTotal.Add(float64(len(res.Manifest.Anomalies)))
	r.metrics.InvoicesTotal.Add(float64(len(res.Invoices)))
}

func fetchReason(fetched ingest.Result, sourceID string) string {
	if st, ok := fetched.Availability[sourceID]; ok && st.Err != "" {
		return st.Err
	}
	return "payload unavailable"
}

// invoiceClock adapts the pipeline clock to the invoice package.
type invoiceClock struct{ c Clock }

func (a invoiceClock) Now() time.Time { return a.c.Now() }
