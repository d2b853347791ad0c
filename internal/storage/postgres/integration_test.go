package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/invoice"
	"energy-recon/internal/reading"
	"energy-recon/internal/storage/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func applyMigrations(db *sql.DB) error {
	root := projectRoot()
	content, err := os.ReadFile(filepath.Join(root, "migrations", "001_recon.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

func TestAggregateRepository_RerunSupersedes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, _ = db.ExecContext(ctx, "DELETE FROM recon_aggregates WHERE subject_id = $1", "it-meter-1")

	repo, err := postgres.NewAggregateRepository(db)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	first, err := aggregate.NewPeriod("it-meter-1", reading.MetricEnergyKWh, aggregate.GranularityDay, start, 20, 10, 12, 2)
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	if err := repo.SaveAll(ctx, []aggregate.Period{first}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Rerun over the same bucket with a corrected value.
	second, err := aggregate.NewPeriod("it-meter-1", reading.MetricEnergyKWh, aggregate.GranularityDay, start, 22, 11, 12, 2)
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	second = second.WithAnomaly(aggregate.Annotation{Deviation: 3.1, Direction: "high"})
	if err := repo.SaveAll(ctx, []aggregate.Period{second}); err != nil {
		t.Fatalf("resave: %v", err)
	}

	out, err := repo.ListByGranularityAndRange(ctx, reading.MetricEnergyKWh, aggregate.GranularityDay, start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got *aggregate.Period
	for i := range out {
		if out[i].SubjectID() == "it-meter-1" {
			got = &out[i]
		}
	}
	if got == nil {
		t.Fatal("saved period not listed")
	}
	if got.Sum() != 22 {
		t.Fatalf("sum = %v, want superseding value 22", got.Sum())
	}
	ann, ok := got.Anomaly()
	if !ok || ann.Direction != "high" {
		t.Fatalf("anomaly not persisted: %v %v", ann, ok)
	}
}

func TestInvoiceRepository_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, _ = db.ExecContext(ctx, "DELETE FROM recon_invoices WHERE location IN ($1, $2)", "IT Freedom Village", "IT Durr Boerdery")

	repo, err := postgres.NewInvoiceRepository(db)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}

	calc, err := invoice.NewCalculator(invoice.Tariff{
		EnergyRateZAR:    decimal.RequireFromString("2.85"),
		ServiceChargeZAR: decimal.RequireFromString("150.00"),
		VATPercent:       decimal.RequireFromString("15"),
	}, invoice.FixedClock{At: time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	records, err := calc.Generate(invoice.Inputs{
		BillingPeriod: june,
		UnitsByLocation: map[string]float64{
			"IT Freedom Village": 1000,
			"IT Durr Boerdery":   400,
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := repo.SaveAll(ctx, records); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Regeneration upserts the same ids.
	if err := repo.SaveAll(ctx, records); err != nil {
		t.Fatalf("resave: %v", err)
	}

	rows, err := repo.ListByPeriod(ctx, june)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var mine []postgres.InvoiceRow
	for _, row := range rows {
		if row.Location == "IT Freedom Village" || row.Location == "IT Durr Boerdery" {
			mine = append(mine, row)
		}
	}
	if len(mine) != 2 {
		t.Fatalf("rows = %d, want 2", len(mine))
	}
	if mine[0].Location != "IT Durr Boerdery" {
		t.Fatalf("order by location broken: %s first", mine[0].Location)
	}
	if mine[1].Total != "3450.00" {
		t.Fatalf("total = %s, want 3450.00", mine[1].Total)
	}

	got, err := repo.GetByID(ctx, records[0].ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Units != records[0].Units() {
		t.Fatalf("units = %v, want %v", got.Units, records[0].Units())
	}

	if _, err := repo.GetByID(ctx, "INV-000000-NOBODY"); !errors.Is(err, postgres.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
