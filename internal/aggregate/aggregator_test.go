package aggregate

import (
	"errors"
	"math"
	"testing"
	"time"

	"energy-recon/internal/reading"
)

func validated(t *testing.T, source string, ts time.Time, value float64) reading.Reading {
	t.Helper()
	r, err := reading.New(source, reading.MetricEnergyKWh, ts, value)
	if err != nil {
		t.Fatalf("reading.New: %v", err)
	}
	v, err := r.WithQuality(reading.QualityValidated)
	if err != nil {
		t.Fatalf("WithQuality: %v", err)
	}
	return v
}

func TestAggregateDaily(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	rs := []reading.Reading{
		validated(t, "meter-1", day.Add(1*time.Hour), 10),
		validated(t, "meter-1", day.Add(5*time.Hour), 30),
		validated(t, "meter-1", day.AddDate(0, 0, 1).Add(2*time.Hour), 7),
	}

	out, err := Aggregate(rs, GranularityDay)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("periods = %d, want 2", len(out))
	}

	first := out[0]
	if first.Sum() != 40 || first.Mean() != 20 || first.Peak() != 30 || first.SampleCount() != 2 {
		t.Errorf("day one: sum=%v mean=%v peak=%v count=%d", first.Sum(), first.Mean(), first.Peak(), first.SampleCount())
	}
	if !first.Start().Equal(day) {
		t.Errorf("day one start = %v, want %v", first.Start(), day)
	}
}

func TestAggregateOmitsEmptyBuckets(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	rs := []reading.Reading{
		validated(t, "meter-1", day, 5),
		// Three-day gap; no zero buckets should appear for the gap.
		validated(t, "meter-1", day.AddDate(0, 0, 4), 6),
	}
	out, err := Aggregate(rs, GranularityDay)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("periods = %d, want 2 (gap days omitted)", len(out))
	}
	for _, p := range out {
		if p.SampleCount() < 1 {
			t.Errorf("bucket %v has zero samples", p.Start())
		}
	}
}

func TestAggregateRejectsRejectedReadings(t *testing.T) {
	r, err := reading.New("meter-1", reading.MetricEnergyKWh, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), 5)
	if err != nil {
		t.Fatalf("reading.New: %v", err)
	}
	rejected, err := r.WithQuality(reading.QualityRejected)
	if err != nil {
		t.Fatalf("WithQuality: %v", err)
	}
	if _, err := Aggregate([]reading.Reading{rejected}, GranularityDay); !errors.Is(err, ErrRejectedReading) {
		t.Fatalf("err = %v, want ErrRejectedReading", err)
	}
}

func TestWeekBucketsStartMonday(t *testing.T) {
	// 2024-06-05 is a Wednesday; its week starts Monday 2024-06-03.
	wed := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)
	start, err := BucketStart(GranularityWeek, wed)
	if err != nil {
		t.Fatalf("BucketStart: %v", err)
	}
	want := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("week start = %v, want %v", start, want)
	}
	if start.Weekday() != time.Monday {
		t.Errorf("weekday = %v, want Monday", start.Weekday())
	}
}

func TestRollupMatchesDailyTotals(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	var rs []reading.Reading
	for i := 0; i < 10; i++ {
		rs = append(rs, validated(t, "meter-1", day.AddDate(0, 0, i).Add(time.Hour), float64(i+1)))
	}
	daily, err := Aggregate(rs, GranularityDay)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	monthly, err := Rollup(daily, GranularityMonth)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if len(monthly) != 1 {
		t.Fatalf("monthly periods = %d, want 1", len(monthly))
	}

	var dailySum float64
	var dailyCount int
	for _, d := range daily {
		dailySum += d.Sum()
		dailyCount += d.SampleCount()
	}
	m := monthly[0]
	if math.Abs(m.Sum()-dailySum) > 1e-9 {
		t.Errorf("monthly sum = %v, want sum of daily sums %v", m.Sum(), dailySum)
	}
	if m.SampleCount() != dailyCount {
		t.Errorf("monthly count = %d, want %d", m.SampleCount(), dailyCount)
	}
	if m.Peak() != 10 {
		t.Errorf("monthly peak = %v, want 10", m.Peak())
	}
}

func TestRollupRefusesNonDailyInput(t *testing.T) {
	hour := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	p, err := NewPeriod("meter-1", reading.MetricEnergyKWh, GranularityHour, hour, 5, 5, 5, 1)
	if err != nil {
		t.Fatalf("NewPeriod: %v", err)
	}
	if _, err := Rollup([]Period{p}, GranularityWeek); !errors.Is(err, ErrInvalidGranularity) {
		t.Fatalf("err = %v, want ErrInvalidGranularity", err)
	}
}

func TestDifferenceCumulative(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	rs := []reading.Reading{
		validated(t, "meter-1", day.Add(2*time.Hour), 120),
		validated(t, "meter-1", day, 100),
		validated(t, "meter-1", day.Add(1*time.Hour), 105),
	}
	out, err := DifferenceCumulative(rs)
	if err != nil {
		t.Fatalf("DifferenceCumulative: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("readings = %d, want 2", len(out))
	}
	if out[0].Value() != 5 || out[1].Value() != 15 {
		t.Errorf("deltas = %v, %v, want 5, 15", out[0].Value(), out[1].Value())
	}
	if !out[0].Timestamp().Equal(day.Add(1 * time.Hour)) {
		t.Errorf("delta stamped at %v, want later endpoint", out[0].Timestamp())
	}
}

func TestDifferenceCumulativeRejectsDecrease(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	rs := []reading.Reading{
		validated(t, "meter-1", day, 100),
		validated(t, "meter-1", day.Add(time.Hour), 90),
	}
	if _, err := DifferenceCumulative(rs); !errors.Is(err, ErrRejectedReading) {
		t.Fatalf("err = %v, want ErrRejectedReading", err)
	}
}

func TestTimeKeyLayouts(t *testing.T) {
	at := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		g    Granularity
		want string
	}{
		{GranularityHour, "20240603T09"},
		{GranularityDay, "20240603"},
		{GranularityWeek, "20240603"},
		{GranularityMonth, "202406"},
	}
	for _, tc := range cases {
		got, err := TimeKey(tc.g, at)
		if err != nil {
			t.Fatalf("TimeKey(%s): %v", tc.g, err)
		}
		if got != tc.want {
			t.Errorf("TimeKey(%s) = %q, want %q", tc.g, got, tc.want)
		}
	}
}
