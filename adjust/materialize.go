package adjust

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// Materialize turns an optimizer solution into the corrected dataset for one
// point. Pulse counts are rounded half-up to whole pulses (a pulse counter
// cannot report fractions), readings keep full precision, and every
// measurement receives the unified time.
func Materialize(ctx *apd.Context, original engine.Point, props Proportions, sol Solution) (engine.Point, error) {
	trial, err := props.Reconstruct(ctx, original, sol.MasterPulses, sol.UnifiedTime)
	if err != nil {
		return engine.Point{}, err
	}
	for i := range trial.Measurements {
		rounded, err := roundToInteger(ctx, trial.Measurements[i].Pulses)
		if err != nil {
			return engine.Point{}, fmt.Errorf("point %d measurement %d pulses: %w", original.Number, i+1, err)
		}
		trial.Measurements[i].Pulses = rounded
	}
	return trial, nil
}

// roundToInteger rounds half-up to zero decimal places regardless of the
// context's own rounding mode.
func roundToInteger(ctx *apd.Context, v *apd.Decimal) (*apd.Decimal, error) {
	rctx := *ctx
	rctx.Rounding = apd.RoundHalfUp
	r := new(apd.Decimal)
	if _, err := rctx.Quantize(r, v, 0); err != nil {
		return nil, err
	}
	return r, nil
}
