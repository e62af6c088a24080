// Package adjust recomputes calibration measurements so every reading of a
// point shares one collection time while the certificate aggregates stay
// numerically unchanged. It derives per-point proportions, searches for the
// master pulse count (and optionally the unified time) that preserves the
// aggregates, materializes the corrected dataset, and verifies the result.
package adjust

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// ErrDegenerateMaster is returned when the designated master measurement has
// a zero pulse count or reading, leaving the proportions undefined.
var ErrDegenerateMaster = errors.New("master measurement has zero pulses or reading")

// Proportions is the fingerprint of a point's internal variability: the
// ratio of every measurement's pulse count and reading to the master
// measurement. It is computed once from original data and held fixed through
// optimization so reconstructed siblings keep their relative spread.
type Proportions struct {
	MasterIndex   int
	MasterPulses  *apd.Decimal
	MasterReading *apd.Decimal
	// PulseRatios[i] = pulses_i / pulses_master (the master entry is 1).
	PulseRatios []*apd.Decimal
	// ReadingRatios[i] = reading_i / reading_master.
	ReadingRatios []*apd.Decimal
	// ReadingPerPulse = reading_master / pulses_master, used to derive
	// trial readings from a trial master pulse count.
	ReadingPerPulse *apd.Decimal
}

// ExtractProportions computes the proportion set of a point relative to the
// measurement at masterIndex.
func ExtractProportions(ctx *apd.Context, p engine.Point, masterIndex int) (Proportions, error) {
	if len(p.Measurements) != engine.MeasurementsPerPoint {
		return Proportions{}, fmt.Errorf("point %d has %d measurements: %w",
			p.Number, len(p.Measurements), engine.ErrIncompletePoint)
	}
	if masterIndex < 0 || masterIndex >= len(p.Measurements) {
		return Proportions{}, fmt.Errorf("master index %d out of range for point %d", masterIndex, p.Number)
	}

	master := p.Measurements[masterIndex]
	if master.Pulses.IsZero() || master.Reading.IsZero() {
		return Proportions{}, fmt.Errorf("point %d measurement %d: %w",
			p.Number, masterIndex+1, ErrDegenerateMaster)
	}

	pr := Proportions{
		MasterIndex:   masterIndex,
		MasterPulses:  new(apd.Decimal).Set(master.Pulses),
		MasterReading: new(apd.Decimal).Set(master.Reading),
		PulseRatios:   make([]*apd.Decimal, len(p.Measurements)),
		ReadingRatios: make([]*apd.Decimal, len(p.Measurements)),
	}
	for i, m := range p.Measurements {
		pulseRatio := new(apd.Decimal)
		if _, err := ctx.Quo(pulseRatio, m.Pulses, master.Pulses); err != nil {
			return Proportions{}, fmt.Errorf("point %d pulse ratio %d: %w", p.Number, i+1, err)
		}
		readingRatio := new(apd.Decimal)
		if _, err := ctx.Quo(readingRatio, m.Reading, master.Reading); err != nil {
			return Proportions{}, fmt.Errorf("point %d reading ratio %d: %w", p.Number, i+1, err)
		}
		pr.PulseRatios[i] = pulseRatio
		pr.ReadingRatios[i] = readingRatio
	}

	rpp := new(apd.Decimal)
	if _, err := ctx.Quo(rpp, master.Reading, master.Pulses); err != nil {
		return Proportions{}, fmt.Errorf("point %d reading per pulse: %w", p.Number, err)
	}
	pr.ReadingPerPulse = rpp
	return pr, nil
}

// Reconstruct builds a trial point from a master pulse count and a unified
// collection time, applying the fixed proportions. Temperatures are carried
// over from the original measurements.
func (pr Proportions) Reconstruct(ctx *apd.Context, original engine.Point, masterPulses, unifiedTime *apd.Decimal) (engine.Point, error) {
	out := engine.Point{
		Number:       original.Number,
		Measurements: make([]engine.Measurement, len(original.Measurements)),
	}
	for i, m := range original.Measurements {
		pulses := new(apd.Decimal)
		if _, err := ctx.Mul(pulses, masterPulses, pr.PulseRatios[i]); err != nil {
			return engine.Point{}, err
		}
		reading := new(apd.Decimal)
		if _, err := ctx.Mul(reading, masterPulses, pr.ReadingPerPulse); err != nil {
			return engine.Point{}, err
		}
		if _, err := ctx.Mul(reading, reading, pr.ReadingRatios[i]); err != nil {
			return engine.Point{}, err
		}
		out.Measurements[i] = engine.Measurement{
			Pulses:      pulses,
			Time:        new(apd.Decimal).Set(unifiedTime),
			Reading:     reading,
			Temperature: new(apd.Decimal).Set(m.Temperature),
		}
	}
	return out, nil
}
