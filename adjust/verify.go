package adjust

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// Residual is the deviation of one recomputed aggregate from its target.
// Relative is the difference divided by the target, or the absolute
// difference when the target is zero.
type Residual struct {
	Name     string
	Target   *apd.Decimal
	Computed *apd.Decimal
	Absolute *apd.Decimal
	Relative *apd.Decimal
	Pass     bool
}

// Verification is the independent re-check of a materialized point against
// the original certificate aggregates.
type Verification struct {
	Residuals []Residual
	Pass      bool
}

// Verify re-runs the full formula chain over the materialized (integer
// pulse) dataset and compares each of the four aggregates to the targets.
// A residual passes when its relative deviation is at most the tolerance;
// exactly at the tolerance still passes.
func Verify(ev *engine.Evaluator, cst engine.Constants, corrected engine.Point, targets Targets, tolerance *apd.Decimal) (Verification, error) {
	agg, _, err := ev.Aggregate(cst, corrected)
	if err != nil {
		return Verification{}, fmt.Errorf("verify point %d: %w", corrected.Number, err)
	}

	ctx := ev.Context()
	pairs := []struct {
		name             string
		target, computed *apd.Decimal
	}{
		{"mean_reference_flow", targets.MeanReferenceFlow, agg.MeanReferenceFlow},
		{"mean_meter_flow", targets.MeanMeterFlow, agg.MeanMeterFlow},
		{"trend", targets.Trend, agg.Trend},
		{"std_dev", targets.StdDev, agg.StdDev},
	}

	v := Verification{Pass: true}
	for _, p := range pairs {
		r, err := residual(ctx, p.name, p.target, p.computed, tolerance)
		if err != nil {
			return Verification{}, fmt.Errorf("verify point %d %s: %w", corrected.Number, p.name, err)
		}
		if !r.Pass {
			v.Pass = false
		}
		v.Residuals = append(v.Residuals, r)
	}
	return v, nil
}

func residual(ctx *apd.Context, name string, target, computed, tolerance *apd.Decimal) (Residual, error) {
	abs := new(apd.Decimal)
	if _, err := ctx.Sub(abs, computed, target); err != nil {
		return Residual{}, err
	}
	abs.Abs(abs)

	rel := new(apd.Decimal).Set(abs)
	if !target.IsZero() {
		mag := new(apd.Decimal).Abs(target)
		if _, err := ctx.Quo(rel, abs, mag); err != nil {
			return Residual{}, err
		}
	}

	return Residual{
		Name:     name,
		Target:   new(apd.Decimal).Set(target),
		Computed: new(apd.Decimal).Set(computed),
		Absolute: abs,
		Relative: rel,
		Pass:     rel.Cmp(tolerance) <= 0,
	}, nil
}
