package reading

import "time"

// Metric is the canonical measured quantity of a reading.
type Metric string

const (
	MetricFuelLevel Metric = "fuel_level"
	MetricPowerKW   Metric = "power_kw"
	MetricEnergyKWh Metric = "energy_kwh"
	MetricCostZAR   Metric = "cost_zar"
)

// IsValid checks if the metric is one of the supported values.
func (m Metric) IsValid() bool {
	switch m {
	case MetricFuelLevel, MetricPowerKW, MetricEnergyKWh, MetricCostZAR:
		return true
	default:
		return false
	}
}

// Quality is the lifecycle state of a reading.
type Quality string

const (
	QualityRaw          Quality = "raw"
	QualityValidated    Quality = "validated"
	QualityRejected     Quality = "rejected"
	QualityInterpolated Quality = "interpolated"
)

// IsValid checks if the quality is one of the supported values.
func (q Quality) IsValid() bool {
	switch q {
	case QualityRaw, QualityValidated, QualityRejected, QualityInterpolated:
		return true
	default:
		return false
	}
}

// Reading is one canonical observation from a single source/metric.
// Invariants:
// 1) A reading is never mutated once validated; stage transitions produce
//    a replacement value via WithQuality.
// 2) The timestamp is always a concrete instant; zone alignment happens
//    in the timezone package before validation.
type Reading struct {
	sourceID  string
	metric    Metric
	timestamp time.Time
	value     float64
	quality   Quality
}

// New creates a raw reading.
func New(sourceID string, metric Metric, timestamp time.Time, value float64) (Reading, error) {
	if sourceID == "" {
		return Reading{}, ErrEmptySourceID
	}
	if !metric.IsValid() {
		return Reading{}, ErrInvalidMetric
	}
	if timestamp.IsZero() {
		return Reading{}, ErrInvalidTimestamp
	}

	return Reading{
		sourceID:  sourceID,
		metric:    metric,
		timestamp: timestamp,
		value:     value,
		quality:   QualityRaw,
	}, nil
}

// SourceID returns the logical source the reading came from.
func (r Reading) SourceID() string { return r.sourceID }

// Metric returns the measured quantity.
func (r Reading) Metric() Metric { return r.metric }

// Timestamp returns the observation instant.
func (r Reading) Timestamp() time.Time { return r.timestamp }

// Value returns the unit-normalized observation value.
func (r Reading) Value() float64 { return r.value }

// Quality returns the lifecycle state.
func (r Reading) Quality() Quality { return r.quality }

// WithQuality returns a copy of the reading in the given quality state.
func (r Reading) WithQuality(q Quality) (Reading, error) {
	if !q.IsValid() {
		return Reading{}, ErrInvalidQuality
	}
	out := r
	out.quality = q
	return out, nil
}

// WithTimestamp returns a copy of the reading observed at the given instant.
func (r Reading) WithTimestamp(ts time.Time) (Reading, error) {
	if ts.IsZero() {
		return Reading{}, ErrInvalidTimestamp
	}
	out := r
	out.timestamp = ts
	return out, nil
}
