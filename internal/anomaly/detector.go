// Package anomaly flags statistical outliers in aggregate series.
package anomaly

import (
	"math"
	"sort"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/reading"
)

const (
	// DefaultWindow is the trailing window length in periods.
	DefaultWindow = 14
	// DefaultThreshold is the deviation multiple that marks an outlier.
	DefaultThreshold = 2.5
	// DefaultMinSamples is the minimum trailing history before any
	// flagging, to avoid false positives on short series.
	DefaultMinSamples = 5
)

// Detector annotates aggregate periods whose value deviates from the
// trailing window. Anomalies are surfaced, never auto-corrected.
type Detector struct {
	window     int
	threshold  float64
	minSamples int
}

// Option configures the detector.
type Option func(*Detector)

// WithWindow overrides the trailing window length.
func WithWindow(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.window = n
		}
	}
}

// WithThreshold overrides the deviation multiple.
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 {
			d.threshold = t
		}
	}
}

// WithMinSamples overrides the minimum trailing history.
func WithMinSamples(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minSamples = n
		}
	}
}

// NewDetector constructs a detector with the package defaults.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		window:     DefaultWindow,
		threshold:  DefaultThreshold,
		minSamples: DefaultMinSamples,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Annotate returns a copy of the periods with anomaly annotations attached
// where a period's sum deviates from the trailing window mean by more than
// the threshold multiple of the window's standard deviation. Series are
// keyed by (subject, metric, granularity); input order is preserved.
func (d *Detector) Annotate(ps []aggregate.Period) []aggregate.Period {
	type seriesKey struct {
		subject     string
		metric      reading.Metric
		granularity aggregate.Granularity
	}

	indexesByKey := make(map[seriesKey][]int)
	for i, p := range ps {
		k := seriesKey{subject: p.SubjectID(), metric: p.Metric(), granularity: p.Granularity()}
		indexesByKey[k] = append(indexesByKey[k], i)
	}

	out := make([]aggregate.Period, len(ps))
	copy(out, ps)

	for _, indexes := range indexesByKey {
		sort.SliceStable(indexes, func(a, b int) bool {
			return ps[indexes[a]].Start().Before(ps[indexes[b]].Start())
		})
		for pos, idx := range indexes {
			lo := pos - d.window
			if lo < 0 {
				lo = 0
			}
			trailing := indexes[lo:pos]
			if len(trailing) < d.minSamples {
				continue
			}

			mean, std := meanStd(ps, trailing)
			if std == 0 {
				continue
			}
			diff := ps[idx].Sum() - mean
			if math.Abs(diff) <= d.threshold*std {
				continue
			}

			direction := "high"
			if diff < 0 {
				direction = "low"
			}
			out[idx] = out[idx].WithAnomaly(aggregate.Annotation{
				Deviation: math.Abs(diff) / std,
				Direction: direction,
			})
		}
	}
	return out
}

func meanStd(ps []aggregate.Period, indexes []int) (mean, std float64) {
	for _, i := range indexes {
		mean += ps[i].Sum()
	}
	mean /= float64(len(indexes))
	var variance float64
	for _, i := range indexes {
		dev := ps[i].Sum() - mean
		variance += dev * dev
	}
	variance /= float64(len(indexes))
	return mean, math.Sqrt(variance)
}
