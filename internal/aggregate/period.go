// Package aggregate rolls validated readings into period summaries.
package aggregate

import (
	"errors"
	"time"

	"energy-recon/internal/reading"
)

// Granularity is the time resolution of an aggregate period.
type Granularity string

const (
	GranularityHour  Granularity = "HOUR"
	GranularityDay   Granularity = "DAY"
	GranularityWeek  Granularity = "WEEK"
	GranularityMonth Granularity = "MONTH"
)

// IsValid checks if the granularity is one of the supported values.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidGranularity = errors.New("aggregate: invalid granularity")
	ErrEmptyBucket        = errors.New("aggregate: bucket needs at least one sample")
	ErrInvalidPeriodStart = errors.New("aggregate: invalid period start")
	ErrEmptySubject       = errors.New("aggregate: empty subject id")
)

// timeKeyLayout returns the storage layout for a granularity.
func timeKeyLayout(g Granularity) (string, error) {
	switch g {
	case GranularityHour:
		return "20060102T15", nil
	case GranularityDay, GranularityWeek:
		return "20060102", nil
	case GranularityMonth:
		return "200601", nil
	default:
		return "", ErrInvalidGranularity
	}
}

// TimeKey is the persisted representation of a period boundary.
func TimeKey(g Granularity, start time.Time) (string, error) {
	layout, err := timeKeyLayout(g)
	if err != nil {
		return "", err
	}
	if start.IsZero() {
		return "", ErrInvalidPeriodStart
	}
	return start.Format(layout), nil
}

// BucketStart truncates an instant to the start of its bucket in the
// instant's own zone. Weeks start Monday.
func BucketStart(g Granularity, t time.Time) (time.Time, error) {
	switch g {
	case GranularityHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()), nil
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), nil
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()), nil
	default:
		return time.Time{}, ErrInvalidGranularity
	}
}

// BucketEnd returns the exclusive end of the bucket starting at start.
func BucketEnd(g Granularity, start time.Time) (time.Time, error) {
	switch g {
	case GranularityHour:
		return start.Add(time.Hour), nil
	case GranularityDay:
		return start.AddDate(0, 0, 1), nil
	case GranularityWeek:
		return start.AddDate(0, 0, 7), nil
	case GranularityMonth:
		return start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, ErrInvalidGranularity
	}
}

// Period is one summary bucket.
// Invariants:
// 1) SampleCount >= 1; empty buckets are omitted, never emitted as zero,
//    so "no data" and "measured zero" stay distinguishable downstream.
// 2) Once built, a period is frozen; the anomaly detector attaches its
//    annotation via WithAnomaly, which returns a copy.
type Period struct {
	subjectID   string
	metric      reading.Metric
	granularity Granularity
	start       time.Time
	end         time.Time

	sum         float64
	mean        float64
	peak        float64
	sampleCount int

	anomaly *Annotation
}

// Annotation is a non-blocking anomaly note attached to a period.
type Annotation struct {
	Deviation float64 // multiples of the trailing window's std deviation
	Direction string  // "high" or "low"
}

// NewPeriod builds a summary bucket.
func NewPeriod(subjectID string, metric reading.Metric, g Granularity, start time.Time, sum, mean, peak float64, sampleCount int) (Period, error) {
	if subjectID == "" {
		return Period{}, ErrEmptySubject
	}
	if !metric.IsValid() {
		return Period{}, reading.ErrInvalidMetric
	}
	if !g.IsValid() {
		return Period{}, ErrInvalidGranularity
	}
	if start.IsZero() {
		return Period{}, ErrInvalidPeriodStart
	}
	if sampleCount < 1 {
		return Period{}, ErrEmptyBucket
	}
	end, err := BucketEnd(g, start)
	if err != nil {
		return Period{}, err
	}

	return Period{
		subjectID:   subjectID,
		metric:      metric,
		granularity: g,
		start:       start,
		end:         end,
		sum:         sum,
		mean:        mean,
		peak:        peak,
		sampleCount: sampleCount,
	}, nil
}

// SubjectID returns the source or metric group the bucket summarizes.
func (p Period) SubjectID() string { return p.subjectID }

// Metric returns the summarized metric.
func (p Period) Metric() reading.Metric { return p.metric }

// Granularity returns the bucket resolution.
func (p Period) Granularity() Granularity { return p.granularity }

// Start returns the inclusive bucket start.
func (p Period) Start() time.Time { return p.start }

// End returns the exclusive bucket end.
func (p Period) End() time.Time { return p.end }

// Sum returns the bucket total.
func (p Period) Sum() float64 { return p.sum }

// Mean returns the per-sample average.
func (p Period) Mean() float64 { return p.mean }

// Peak returns the largest sample.
func (p Period) Peak() float64 { return p.peak }

// SampleCount returns the number of contributing samples.
func (p Period) SampleCount() int { return p.sampleCount }

// Anomaly returns the attached annotation, if any.
func (p Period) Anomaly() (Annotation, bool) {
	if p.anomaly == nil {
		return Annotation{}, false
	}
	return *p.anomaly, true
}

// WithAnomaly returns a copy of the period carrying the annotation.
func (p Period) WithAnomaly(a Annotation) Period {
	out := p
	out.anomaly = &a
	return out
}
