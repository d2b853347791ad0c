package pipeline

import (
	"time"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/ingest"
	"energy-recon/internal/reading"
	"energy-recon/internal/validate"
)

// SourceIssue records a source that contributed nothing to a run.
type SourceIssue struct {
	SourceID     string
	Stage        string
	Reason       string
	RejectedRows int
}

// PeriodFlag marks a reconciled period needing operator attention.
type PeriodFlag struct {
	Location       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	SensorLiters   float64
	LedgerLiters   float64
	UsedLiters     float64
	PriceEstimated bool
}

// AnomalyFlag surfaces one anomaly annotation.
type AnomalyFlag struct {
	SubjectID   string
	Metric      reading.Metric
	Granularity aggregate.Granularity
	PeriodStart time.Time
	Deviation   float64
	Direction   string
}

// Manifest is the run's account of what was skipped, flagged, or
// estimated. The pipeline always returns the best available result plus
// this manifest, never an all-or-nothing failure.
type Manifest struct {
	RunID         string
	ConfigVersion string
	StartedAt     time.Time
	FinishedAt    time.Time

	Availability     map[string]ingest.Status
	SkippedSources   []SourceIssue
	RowErrors        map[string]int
	RejectedReadings map[string]map[validate.Reason]int

	ReviewPeriods         []PeriodFlag
	PriceEstimatedPeriods []PeriodFlag
	Anomalies             []AnomalyFlag
}

// RejectedTotal returns the rejected reading count across sources.
func (m Manifest) RejectedTotal() int {
	total := 0
	for _, byReason := range m.RejectedReadings {
		for _, n := range byReason {
			total += n
		}
	}
	return total
}
