// Package export renders pipeline output as files for downstream consumers.
package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/invoice"
	"energy-recon/internal/pipeline"
)

const timeLayout = time.RFC3339

// WriteReports writes the run's tables and manifest into outDir.
func WriteReports(outDir string, res pipeline.Result) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := writeAggregates(outDir, res.Aggregates); err != nil {
		return err
	}
	if err := writeInvoices(outDir, res.Invoices); err != nil {
		return err
	}
	if err := writeAudit(outDir, res); err != nil {
		return err
	}
	return writeManifestJSON(outDir, res.Manifest)
}

func writeAggregates(outDir string, periods []aggregate.Period) error {
	file, err := os.Create(filepath.Join(outDir, "aggregates.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"subject_id",
		"metric",
		"granularity",
		"period_start",
		"period_end",
		"sum",
		"mean",
		"peak",
		"sample_count",
		"anomaly",
		"anomaly_deviation",
	}); err != nil {
		return err
	}

	for _, p := range periods {
		direction := ""
		deviation := ""
		if a, ok := p.Anomaly(); ok {
			direction = a.Direction
			deviation = formatFloat(a.Deviation)
		}
		if err := writer.Write([]string{
			p.SubjectID(),
			string(p.Metric()),
			string(p.Granularity()),
			formatTime(p.Start()),
			formatTime(p.End()),
			formatFloat(p.Sum()),
			formatFloat(p.Mean()),
			formatFloat(p.Peak()),
			strconv.Itoa(p.SampleCount()),
			direction,
			deviation,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeInvoices(outDir string, records []invoice.Record) error {
	file, err := os.Create(filepath.Join(outDir, "invoices.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"billing_period",
		"location",
		"units",
		"unit_source",
		"energy_cost",
		"service_charge",
		"vat",
		"total",
		"generated_at",
	}); err != nil {
		return err
	}

	for _, rec := range records {
		if err := writer.Write([]string{
			rec.BillingPeriod().Format("2006-01"),
			rec.Location(),
			formatFloat(rec.Units()),
			string(rec.UnitSource()),
			rec.EnergyCost().StringFixed(2),
			rec.ServiceCharge().StringFixed(2),
			rec.VAT().StringFixed(2),
			rec.Total().StringFixed(2),
			formatTime(rec.GeneratedAt()),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeAudit(outDir string, res pipeline.Result) error {
	file, err := os.Create(filepath.Join(outDir, "rejected_readings.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"source_id", "timestamp", "value", "reason"}); err != nil {
		return err
	}
	sourceIDs := make([]string, 0, len(res.Audit))
	for sourceID := range res.Audit {
		sourceIDs = append(sourceIDs, sourceID)
	}
	sort.Strings(sourceIDs)
	for _, sourceID := range sourceIDs {
		for _, entry := range res.Audit[sourceID] {
			if err := writer.Write([]string{
				sourceID,
				formatTime(entry.Reading.Timestamp()),
				formatFloat(entry.Reading.Value()),
				string(entry.Reason),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeManifestJSON(outDir string, m pipeline.Manifest) error {
	file, err := os.Create(filepath.Join(outDir, "manifest.json"))
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(m)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
