package normalize

import (
	"errors"
	"fmt"
	"strings"

	"energy-recon/internal/reading"
	"energy-recon/internal/timezone"
)

// Format is the shape of a raw payload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Descriptor declares how one source's payload maps onto canonical readings.
// It is resolved once at normalizer entry; downstream stages never branch on
// source identity.
type Descriptor struct {
	SourceID string
	Metric   reading.Metric
	Format   Format

	// Column names in the payload header. TimestampColumn and ValueColumn
	// are required. EntityColumn/EntityID optionally filter rows, for
	// home-automation exports that interleave many sensors in one file
	// (entity_id / state / last_changed).
	TimestampColumn string
	ValueColumn     string
	EntityColumn    string
	EntityID        string

	// Unit is the declared unit of the value column, converted to the
	// metric's canonical unit (liters, kW, kWh, ZAR).
	Unit string

	// Cumulative marks meter-style counters that only ever increase;
	// the validator and aggregator difference them instead of summing.
	Cumulative bool

	// TankCapacityLiters scales percent fuel levels to liters.
	TankCapacityLiters float64

	Timezone timezone.Policy
}

// Validate checks the descriptor before any payload is touched.
func (d Descriptor) Validate() error {
	if d.SourceID == "" {
		return reading.ErrEmptySourceID
	}
	if !d.Metric.IsValid() {
		return reading.ErrInvalidMetric
	}
	switch d.Format {
	case FormatCSV, FormatXLSX:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, d.Format)
	}
	if d.TimestampColumn == "" || d.ValueColumn == "" {
		return errors.New("normalize: descriptor needs timestamp and value columns")
	}
	if _, err := convertValue(d, 0); err != nil {
		return err
	}
	return nil
}

// convertValue converts a raw cell value in the declared unit to the
// metric's canonical unit.
func convertValue(d Descriptor, v float64) (float64, error) {
	unit := strings.TrimSpace(strings.ToLower(d.Unit))
	switch d.Metric {
	case reading.MetricFuelLevel:
		switch unit {
		case "l", "liters", "litres":
			return v, nil
		case "%", "percent":
			if d.TankCapacityLiters <= 0 {
				return 0, fmt.Errorf("%w: percent fuel level needs tank capacity", ErrUnitMismatch)
			}
			return v / 100 * d.TankCapacityLiters, nil
		}
	case reading.MetricPowerKW:
		switch unit {
		case "kw":
			return v, nil
		case "w":
			return v / 1000, nil
		}
	case reading.MetricEnergyKWh:
		switch unit {
		case "kwh":
			return v, nil
		case "wh":
			return v / 1000, nil
		}
	case reading.MetricCostZAR:
		switch unit {
		case "zar", "r", "rand":
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q for metric %s", ErrUnitMismatch, d.Unit, d.Metric)
}
