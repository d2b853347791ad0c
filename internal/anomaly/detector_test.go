package anomaly

import (
	"testing"
	"time"

	"energy-recon/internal/aggregate"
	"energy-recon/internal/reading"
)

func dailyPeriod(t *testing.T, subject string, day int, sum float64) aggregate.Period {
	t.Helper()
	start := time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC)
	p, err := aggregate.NewPeriod(subject, reading.MetricEnergyKWh, aggregate.GranularityDay, start, sum, sum, sum, 1)
	if err != nil {
		t.Fatalf("NewPeriod: %v", err)
	}
	return p
}

func series(t *testing.T, subject string, sums ...float64) []aggregate.Period {
	t.Helper()
	out := make([]aggregate.Period, 0, len(sums))
	for i, sum := range sums {
		out = append(out, dailyPeriod(t, subject, i+1, sum))
	}
	return out
}

func TestSpikeIsFlaggedHigh(t *testing.T) {
	d := NewDetector()
	ps := series(t, "meter-1", 100, 101, 102, 103, 104, 120)

	out := d.Annotate(ps)
	ann, ok := out[5].Anomaly()
	if !ok {
		t.Fatal("spike not annotated")
	}
	if ann.Direction != "high" {
		t.Errorf("direction = %q, want high", ann.Direction)
	}
	if ann.Deviation <= 2.5 {
		t.Errorf("deviation = %v, want > threshold", ann.Deviation)
	}
	for i := 0; i < 5; i++ {
		if _, ok := out[i].Anomaly(); ok {
			t.Errorf("period %d annotated, want clean", i)
		}
	}
}

func TestDipIsFlaggedLow(t *testing.T) {
	d := NewDetector()
	ps := series(t, "meter-1", 100, 101, 102, 103, 104, 10)

	out := d.Annotate(ps)
	ann, ok := out[5].Anomaly()
	if !ok {
		t.Fatal("dip not annotated")
	}
	if ann.Direction != "low" {
		t.Errorf("direction = %q, want low", ann.Direction)
	}
}

func TestShortHistoryIsNeverFlagged(t *testing.T) {
	d := NewDetector()
	// Only four trailing periods before the spike, below min samples.
	ps := series(t, "meter-1", 100, 101, 102, 103, 999)

	out := d.Annotate(ps)
	for i, p := range out {
		if _, ok := p.Anomaly(); ok {
			t.Errorf("period %d annotated despite short history", i)
		}
	}
}

func TestConstantWindowIsNeverFlagged(t *testing.T) {
	d := NewDetector()
	// Zero standard deviation; flagging would be division by zero noise.
	ps := series(t, "meter-1", 100, 100, 100, 100, 100, 999)

	out := d.Annotate(ps)
	if _, ok := out[5].Anomaly(); ok {
		t.Error("outlier flagged against a zero-variance window")
	}
}

func TestSubjectsAreIndependentSeries(t *testing.T) {
	d := NewDetector()
	ps := series(t, "meter-1", 100, 101, 102, 103, 104, 120)
	ps = append(ps, series(t, "meter-2", 5, 5, 6, 5, 6, 5)...)

	out := d.Annotate(ps)
	if _, ok := out[5].Anomaly(); !ok {
		t.Error("meter-1 spike not annotated")
	}
	for i := 6; i < len(out); i++ {
		if _, ok := out[i].Anomaly(); ok {
			t.Errorf("meter-2 period %d annotated, want clean", i)
		}
	}
}

func TestWindowOption(t *testing.T) {
	// Window of 5 drops the early low values, so the trailing context for
	// the final period is the higher plateau and 115 is unremarkable.
	d := NewDetector(WithWindow(5), WithMinSamples(5))
	ps := series(t, "meter-1", 10, 11, 10, 110, 111, 112, 113, 114, 115)

	out := d.Annotate(ps)
	if _, ok := out[8].Anomaly(); ok {
		t.Error("plateau value flagged against its own plateau window")
	}
}
