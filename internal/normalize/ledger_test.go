package normalize

import (
	"errors"
	"testing"
)

func ledgerDescriptor() LedgerDescriptor {
	return LedgerDescriptor{
		Format:          FormatCSV,
		TimestampColumn: "date",
		LitersColumn:    "liters",
		PriceColumn:     "price_per_liter",
		LocationColumn:  "location",
	}
}

func TestNormalizeLedger(t *testing.T) {
	payload := []byte(`date,liters,price_per_liter,location,supplier
2024-06-01 08:30,500,22.50,Freedom Village,Durr Fuels
2024-06-14 10:00,750,23.10,Freedom Village,Durr Fuels
2024-06-20 09:00,-5,22.50,Freedom Village,Durr Fuels
`)
	res, err := NormalizeLedger(ledgerDescriptor(), payload)
	if err != nil {
		t.Fatalf("NormalizeLedger: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(res.Events))
	}
	if got := res.Events[0].Liters(); got != 500 {
		t.Errorf("liters = %v, want 500", got)
	}
	if got := res.Events[1].PricePerLiter().StringFixed(2); got != "23.10" {
		t.Errorf("price = %s, want 23.10", got)
	}
	if len(res.RowErrors) != 1 {
		t.Fatalf("row errors = %d, want 1 (negative volume)", len(res.RowErrors))
	}
}

func TestNormalizeLedgerMissingColumn(t *testing.T) {
	payload := []byte(`date,liters,location
2024-06-01,500,Freedom Village
`)
	_, err := NormalizeLedger(ledgerDescriptor(), payload)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestNormalizeLedgerAllRowsBadIsEmptyPayload(t *testing.T) {
	payload := []byte(`date,liters,price_per_liter,location
bad,bad,bad,Freedom Village
`)
	_, err := NormalizeLedger(ledgerDescriptor(), payload)
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("err = %v, want ErrEmptyPayload", err)
	}
}
