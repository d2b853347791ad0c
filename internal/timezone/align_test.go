package timezone

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"energy-recon/internal/reading"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func mustReading(t *testing.T, ts time.Time) reading.Reading {
	t.Helper()
	r, err := reading.New("src", reading.MetricFuelLevel, ts, 100)
	if err != nil {
		t.Fatalf("reading.New: %v", err)
	}
	return r
}

func TestAlignReinterpretsNaiveCivilTime(t *testing.T) {
	aligner, err := NewAligner(DefaultZone)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}

	// Parsed upstream as naive 08:00 in UTC; source declares SAST.
	naive := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	r := mustReading(t, naive)

	aligned, err := aligner.Align(r, Policy{Zone: "Africa/Johannesburg"})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	got := aligned.Timestamp()
	if got.Hour() != 8 {
		t.Errorf("civil hour = %d, want 8", got.Hour())
	}
	if !got.UTC().Equal(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("instant = %v, want 06:00 UTC", got.UTC())
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	aligner, err := NewAligner(DefaultZone)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	r := mustReading(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	once, err := aligner.Align(r, Policy{Zone: "Africa/Johannesburg"})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	twice, err := aligner.Align(once, Policy{Zone: "Africa/Johannesburg"})
	if err != nil {
		t.Fatalf("Align twice: %v", err)
	}
	if !once.Timestamp().Equal(twice.Timestamp()) {
		t.Errorf("re-alignment moved %v to %v", once.Timestamp(), twice.Timestamp())
	}
}

func TestAlignFixedOffset(t *testing.T) {
	aligner, err := NewAligner(DefaultZone)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	r := mustReading(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	aligned, err := aligner.Align(r, Policy{OffsetMinutes: 120, HasOffset: true})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if !aligned.Timestamp().UTC().Equal(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("instant = %v, want 06:00 UTC", aligned.Timestamp().UTC())
	}
}

func TestAlignExplicitOffsetConvertsOnly(t *testing.T) {
	aligner, err := NewAligner(DefaultZone)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	// Payload carried +00:00 explicitly.
	r := mustReading(t, time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC))

	aligned, err := aligner.Align(r, Policy{Explicit: true})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if aligned.Timestamp().Hour() != 8 {
		t.Errorf("civil hour = %d, want 8 SAST", aligned.Timestamp().Hour())
	}
	if !aligned.Timestamp().Equal(r.Timestamp()) {
		t.Errorf("conversion changed the instant")
	}
}

func TestAlignUnresolvedPolicyFails(t *testing.T) {
	aligner, err := NewAligner(DefaultZone)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	r := mustReading(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	if _, err := aligner.Align(r, Policy{}); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestAlignPurchases(t *testing.T) {
	aligner, err := NewAligner(DefaultZone)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	ev, err := reading.NewPurchaseEvent(time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC), 500, mustDecimal(t, "22.50"), "Freedom Village")
	if err != nil {
		t.Fatalf("NewPurchaseEvent: %v", err)
	}

	out, err := aligner.AlignPurchases([]reading.PurchaseEvent{ev}, Policy{Zone: "Africa/Johannesburg"})
	if err != nil {
		t.Fatalf("AlignPurchases: %v", err)
	}
	if got := out[0].Timestamp().UTC(); !got.Equal(time.Date(2024, 6, 1, 6, 30, 0, 0, time.UTC)) {
		t.Errorf("instant = %v, want 06:30 UTC", got)
	}
}
