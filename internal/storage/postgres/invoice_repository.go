package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"energy-recon/internal/invoice"
)

const defaultInvoiceTable = "recon_invoices"

// InvoiceRepository stores invoice records keyed by id. Regenerated
// invoices replace their prior rows, keeping the table a projection of
// the latest run.
type InvoiceRepository struct {
	db    *sql.DB
	table string
}

// InvoiceOption configures the repository.
type InvoiceOption func(*InvoiceRepository)

// WithInvoiceTable overrides the default table name.
func WithInvoiceTable(table string) InvoiceOption {
	return func(r *InvoiceRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewInvoiceRepository constructs a repository.
func NewInvoiceRepository(db *sql.DB, opts ...InvoiceOption) (*InvoiceRepository, error) {
	if db == nil {
		return nil, errors.New("postgres: nil db")
	}
	repo := &InvoiceRepository{db: db, table: defaultInvoiceTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// InvoiceRow is the flat persisted shape of an invoice record.
type InvoiceRow struct {
	ID            string
	BillingPeriod time.Time
	Location      string
	Units         float64
	UnitSource    string
	EnergyCost    string
	ServiceCharge string
	VAT           string
	Total         string
	GeneratedAt   time.Time
}

// SaveAll upserts invoice records in one transaction.
func (r *InvoiceRepository) SaveAll(ctx context.Context, records []invoice.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
INSERT INTO %s (id, billing_period, location, units, unit_source, energy_cost, service_charge, vat, total, generated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	units = EXCLUDED.units,
	unit_source = EXCLUDED.unit_source,
	energy_cost = EXCLUDED.energy_cost,
	service_charge = EXCLUDED.service_charge,
	vat = EXCLUDED.vat,
	total = EXCLUDED.total,
	generated_at = EXCLUDED.generated_at`, r.table)

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID(),
			rec.BillingPeriod().UTC(),
			rec.Location(),
			rec.Units(),
			string(rec.UnitSource()),
			rec.EnergyCost().StringFixed(2),
			rec.ServiceCharge().StringFixed(2),
			rec.VAT().StringFixed(2),
			rec.Total().StringFixed(2),
			rec.GeneratedAt().UTC(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetByID returns one persisted invoice.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (InvoiceRow, error) {
	query := fmt.Sprintf(`
SELECT id, billing_period, location, units, unit_source, energy_cost, service_charge, vat, total, generated_at
FROM %s
WHERE id = $1`, r.table)

	var row InvoiceRow
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID,
		&row.BillingPeriod,
		&row.Location,
		&row.Units,
		&row.UnitSource,
		&row.EnergyCost,
		&row.ServiceCharge,
		&row.VAT,
		&row.Total,
		&row.GeneratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return InvoiceRow{}, ErrNotFound
	}
	if err != nil {
		return InvoiceRow{}, err
	}
	row.BillingPeriod = row.BillingPeriod.UTC()
	row.GeneratedAt = row.GeneratedAt.UTC()
	return row, nil
}

// ListByPeriod returns persisted invoices for a billing period, ordered by
// location.
func (r *InvoiceRepository) ListByPeriod(ctx context.Context, billingPeriod time.Time) ([]InvoiceRow, error) {
	query := fmt.Sprintf(`
SELECT id, billing_period, location, units, unit_source, energy_cost, service_charge, vat, total, generated_at
FROM %s
WHERE billing_period = $1
ORDER BY location ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, billingPeriod.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvoiceRow
	for rows.Next() {
		var row InvoiceRow
		if err := rows.Scan(
			&row.ID,
			&row.BillingPeriod,
			&row.Location,
			&row.Units,
			&row.UnitSource,
			&row.EnergyCost,
			&row.ServiceCharge,
			&row.VAT,
			&row.Total,
			&row.GeneratedAt,
		); err != nil {
			return nil, err
		}
		row.BillingPeriod = row.BillingPeriod.UTC()
		row.GeneratedAt = row.GeneratedAt.UTC()
		if _, err := decimal.NewFromString(row.Total); err != nil {
			return nil, fmt.Errorf("postgres: corrupt total for %s: %w", row.ID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
