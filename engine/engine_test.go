package engine

import (
	"errors"
	"testing"

	"github.com/cockroachdb/apd/v3"
)

func dec(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	v, _, err := apd.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

// plainConstants returns a constant set with no time or temperature
// correction: a 0.2 L/P standard and the timed reading mode.
func plainConstants(t *testing.T) Constants {
	return Constants{
		StandardPulseVolume:  dec(t, "200"), // mL per pulse
		EquipmentPulseVolume: dec(t, "0"),
		TempConstant:         dec(t, "0"),
		TempFactor:           dec(t, "0"),
		TimeCoeffA:           dec(t, "0"),
		TimeCoeffB:           dec(t, "0"),
		TempCoeffA:           dec(t, "0"),
		TempCoeffB:           dec(t, "0"),
		Mode:                 ModeTimed,
	}
}

func measurement(t *testing.T, pulses, time, reading, temp string) Measurement {
	return Measurement{
		Pulses:      dec(t, pulses),
		Time:        dec(t, time),
		Reading:     dec(t, reading),
		Temperature: dec(t, temp),
	}
}

func TestEvaluateWithoutCorrections(t *testing.T) {
	ev := New(28)
	r, err := ev.Evaluate(plainConstants(t), measurement(t, "1000", "170.0", "200.0", "20.0"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if r.CorrectedTime.Cmp(dec(t, "170.0")) != 0 {
		t.Fatalf("corrected time = %s, want 170.0", r.CorrectedTime)
	}
	// 1000 pulses * 0.2 L/P with zero temperature correction.
	if r.ReferenceTotal.Cmp(dec(t, "200")) != 0 {
		t.Fatalf("reference total = %s, want 200", r.ReferenceTotal)
	}
	// Reading equals the reference total, so the error is exactly zero.
	if !r.PercentError.IsZero() {
		t.Fatalf("percent error = %s, want 0", r.PercentError)
	}
}

func TestEvaluateTimeCorrection(t *testing.T) {
	cst := plainConstants(t)
	cst.TimeCoeffA = dec(t, "0.01")
	cst.TimeCoeffB = dec(t, "0.5")

	ev := New(28)
	r, err := ev.Evaluate(cst, measurement(t, "1000", "100", "200.0", "20.0"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 100 - (100*0.01 + 0.5) = 98.5
	if r.CorrectedTime.Cmp(dec(t, "98.5")) != 0 {
		t.Fatalf("corrected time = %s, want 98.5", r.CorrectedTime)
	}
}

func TestEvaluateDirectMode(t *testing.T) {
	cst := plainConstants(t)
	cst.Mode = ModeVisualDynamic

	ev := New(28)
	r, err := ev.Evaluate(cst, measurement(t, "1000", "170.0", "4300.5", "20.0"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if r.MeterFlow.Cmp(dec(t, "4300.5")) != 0 {
		t.Fatalf("meter flow = %s, want the reading back unchanged", r.MeterFlow)
	}
}

func TestEvaluateZeroCorrectedTime(t *testing.T) {
	cst := plainConstants(t)
	// The correction terms consume the raw time exactly.
	cst.TimeCoeffB = dec(t, "170.0")

	ev := New(28)
	_, err := ev.Evaluate(cst, measurement(t, "1000", "170.0", "200.0", "20.0"))
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("err = %v, want ErrDivisionByZero", err)
	}
}

func TestAggregateIncompletePoint(t *testing.T) {
	ev := New(28)
	p := Point{Number: 1, Measurements: []Measurement{
		measurement(t, "1000", "170.0", "200.0", "20.0"),
		measurement(t, "1010", "170.0", "202.0", "20.0"),
	}}
	_, _, err := ev.Aggregate(plainConstants(t), p)
	if !errors.Is(err, ErrIncompletePoint) {
		t.Fatalf("err = %v, want ErrIncompletePoint", err)
	}
}

func TestAggregateMeanReferenceFlow(t *testing.T) {
	ev := New(28)
	p := Point{Number: 1, Measurements: []Measurement{
		measurement(t, "1000", "170.0", "200.0", "20.0"),
		measurement(t, "1010", "170.0", "202.0", "20.0"),
		measurement(t, "1005", "170.0", "201.0", "20.0"),
	}}
	agg, results, err := ev.Aggregate(plainConstants(t), p)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}

	// Mean reference flow reduces to mean(volume)*3600/170 = 201*3600/170.
	want := new(apd.Decimal)
	hi := apd.BaseContext.WithPrecision(40)
	if _, err := hi.Quo(want, dec(t, "723600"), dec(t, "170")); err != nil {
		t.Fatalf("quo: %v", err)
	}
	if !withinRel(t, ev.Context(), agg.MeanReferenceFlow, want, "1e-25") {
		t.Fatalf("mean reference flow = %s, want %s", agg.MeanReferenceFlow, want)
	}

	// Readings equal totals, so trend and standard deviation are zero.
	if !agg.Trend.IsZero() {
		t.Fatalf("trend = %s, want 0", agg.Trend)
	}
	if !agg.StdDev.IsZero() {
		t.Fatalf("stddev = %s, want 0", agg.StdDev)
	}
}

func TestAggregateSampleStdDev(t *testing.T) {
	ev := New(28)
	// Percent errors come out as [1, 0, 0]: stddev = sqrt(1/3).
	p := Point{Number: 1, Measurements: []Measurement{
		measurement(t, "1000", "170.0", "202.0", "20.0"),
		measurement(t, "1010", "170.0", "202.0", "20.0"),
		measurement(t, "1005", "170.0", "201.0", "20.0"),
	}}
	agg, _, err := ev.Aggregate(plainConstants(t), p)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	third := new(apd.Decimal)
	want := new(apd.Decimal)
	hi := apd.BaseContext.WithPrecision(40)
	if _, err := hi.Quo(third, apd.New(1, 0), apd.New(3, 0)); err != nil {
		t.Fatalf("quo: %v", err)
	}
	if _, err := hi.Sqrt(want, third); err != nil {
		t.Fatalf("sqrt: %v", err)
	}
	if !withinRel(t, ev.Context(), agg.StdDev, want, "1e-25") {
		t.Fatalf("stddev = %s, want %s", agg.StdDev, want)
	}
}

// withinRel reports whether |a-b| / |b| is at most the given bound.
func withinRel(t *testing.T, ctx *apd.Context, a, b *apd.Decimal, bound string) bool {
	t.Helper()
	diff := new(apd.Decimal)
	if _, err := ctx.Sub(diff, a, b); err != nil {
		t.Fatalf("sub: %v", err)
	}
	if b.IsZero() {
		return diff.IsZero()
	}
	rel := new(apd.Decimal)
	if _, err := ctx.Quo(rel, diff, b); err != nil {
		t.Fatalf("quo: %v", err)
	}
	rel.Abs(rel)
	return rel.Cmp(dec(t, bound)) <= 0
}
