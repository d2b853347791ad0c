package invoice

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var june = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testTariff() Tariff {
	return Tariff{
		EnergyRateZAR:    decimal.RequireFromString("2.85"),
		ServiceChargeZAR: decimal.RequireFromString("150.00"),
		VATPercent:       decimal.RequireFromString("15"),
	}
}

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(testTariff(), FixedClock{At: june.AddDate(0, 1, 2)})
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return calc
}

func TestGenerateFromAggregates(t *testing.T) {
	calc := newCalculator(t)
	records, err := calc.Generate(Inputs{
		BillingPeriod: june,
		UnitsByLocation: map[string]float64{
			"Freedom Village": 1000,
			"Durr Boerdery":   400,
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// Ordered by location name.
	if records[0].Location() != "Durr Boerdery" || records[1].Location() != "Freedom Village" {
		t.Fatalf("order = %s, %s", records[0].Location(), records[1].Location())
	}

	fv := records[1]
	if fv.ID() != "INV-202406-FREEDOM-VILLAGE" {
		t.Errorf("id = %q", fv.ID())
	}
	if fv.UnitSource() != UnitSourceAggregated {
		t.Errorf("unit source = %s", fv.UnitSource())
	}
	if got := fv.EnergyCost().StringFixed(2); got != "2850.00" {
		t.Errorf("energy cost = %s, want 2850.00", got)
	}
	// VAT on (2850 + 150) at 15%.
	if got := fv.VAT().StringFixed(2); got != "450.00" {
		t.Errorf("vat = %s, want 450.00", got)
	}
	if got := fv.Total().StringFixed(2); got != "3450.00" {
		t.Errorf("total = %s, want 3450.00", got)
	}
}

func TestOverrideReplacesAggregateEntirely(t *testing.T) {
	calc := newCalculator(t)
	records, err := calc.Generate(Inputs{
		BillingPeriod:   june,
		UnitsByLocation: map[string]float64{"Freedom Village": 1100},
		Overrides: []Override{
			{Location: "Freedom Village", BillingPeriod: june, Units: 1200},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rec := records[0]
	if rec.Units() != 1200 {
		t.Errorf("units = %v, want override value 1200", rec.Units())
	}
	if rec.UnitSource() != UnitSourceOverridden {
		t.Errorf("unit source = %s, want manually_overridden", rec.UnitSource())
	}
}

func TestOverrideForOtherPeriodIsIgnored(t *testing.T) {
	calc := newCalculator(t)
	records, err := calc.Generate(Inputs{
		BillingPeriod:   june,
		UnitsByLocation: map[string]float64{"Freedom Village": 1100},
		Overrides: []Override{
			{Location: "Freedom Village", BillingPeriod: june.AddDate(0, -1, 0), Units: 1200},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if records[0].Units() != 1100 {
		t.Errorf("units = %v, want aggregate value 1100", records[0].Units())
	}
	if records[0].UnitSource() != UnitSourceAggregated {
		t.Errorf("unit source = %s, want aggregated", records[0].UnitSource())
	}
}

func TestOverrideForUnknownLocationFails(t *testing.T) {
	calc := newCalculator(t)
	_, err := calc.Generate(Inputs{
		BillingPeriod:   june,
		UnitsByLocation: map[string]float64{"Freedom Village": 1100},
		Overrides: []Override{
			{Location: "Nowhere", BillingPeriod: june, Units: 5},
		},
	})
	if !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("err = %v, want ErrUnknownLocation", err)
	}
}

func TestRegenerationIsIdentical(t *testing.T) {
	calc := newCalculator(t)
	in := Inputs{
		BillingPeriod: june,
		UnitsByLocation: map[string]float64{
			"Freedom Village": 1000,
			"Durr Boerdery":   400,
		},
	}
	first, err := calc.Generate(in)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := calc.Generate(in)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("regenerated invoices differ from the first run")
	}
}

func TestBillingPeriodMustBeMonthStart(t *testing.T) {
	calc := newCalculator(t)
	_, err := calc.Generate(Inputs{
		BillingPeriod:   june.AddDate(0, 0, 14),
		UnitsByLocation: map[string]float64{"Freedom Village": 1},
	})
	if !errors.Is(err, ErrInvalidBillingPeriod) {
		t.Fatalf("err = %v, want ErrInvalidBillingPeriod", err)
	}
}

func TestNegativeUnitsRejected(t *testing.T) {
	calc := newCalculator(t)
	_, err := calc.Generate(Inputs{
		BillingPeriod:   june,
		UnitsByLocation: map[string]float64{"Freedom Village": -3},
	})
	if !errors.Is(err, ErrNegativeUnits) {
		t.Fatalf("err = %v, want ErrNegativeUnits", err)
	}
}
