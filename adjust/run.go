package adjust

import (
	"sync"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// PointStatus classifies the outcome of one point's adjustment.
type PointStatus string

const (
	// PointOK: converged, in band, verification passed.
	PointOK PointStatus = "ok"
	// PointUnconverged: the search exhausted its budget above tolerance,
	// or the verification re-check failed. The best candidate is reported.
	PointUnconverged PointStatus = "unconverged"
	// PointOutOfBand: the best candidate's unified time is outside the
	// admissible band.
	PointOutOfBand PointStatus = "out_of_band"
	// PointFailed: a hard error (degenerate master, division by zero,
	// incomplete point) aborted the point.
	PointFailed PointStatus = "failed"
)

// PointResult carries everything produced for one calibration point: the
// frozen targets, the optimizer solution, the materialized dataset and its
// verification. Err is set only for PointFailed.
type PointResult struct {
	Number       int
	Status       PointStatus
	Err          error
	Targets      Targets
	Solution     Solution
	Corrected    engine.Point
	Verification Verification
}

// Run adjusts every point independently and concurrently. A failure in one
// point never blocks the others; results come back in input order.
func Run(ev *engine.Evaluator, cst engine.Constants, points []engine.Point, s Settings) []PointResult {
	results := make([]PointResult, len(points))
	var wg sync.WaitGroup
	for i, p := range points {
		wg.Add(1)
		go func(i int, p engine.Point) {
			defer wg.Done()
			results[i] = adjustPoint(ev, cst, p, s)
		}(i, p)
	}
	wg.Wait()
	return results
}

func adjustPoint(ev *engine.Evaluator, cst engine.Constants, p engine.Point, s Settings) PointResult {
	res := PointResult{Number: p.Number}

	targets, err := ExtractTargets(ev, cst, p)
	if err != nil {
		res.Status = PointFailed
		res.Err = err
		return res
	}
	res.Targets = targets

	props, err := ExtractProportions(ev.Context(), p, s.MasterIndex)
	if err != nil {
		res.Status = PointFailed
		res.Err = err
		return res
	}

	sol, err := Optimize(ev, cst, p, props, targets, s)
	if err != nil {
		res.Status = PointFailed
		res.Err = err
		return res
	}
	res.Solution = sol

	corrected, err := Materialize(ev.Context(), p, props, sol)
	if err != nil {
		res.Status = PointFailed
		res.Err = err
		return res
	}
	res.Corrected = corrected

	verification, err := Verify(ev, cst, corrected, targets, s.Tolerance)
	if err != nil {
		res.Status = PointFailed
		res.Err = err
		return res
	}
	res.Verification = verification

	switch {
	case !sol.InBand:
		res.Status = PointOutOfBand
	case !sol.Converged || !verification.Pass:
		res.Status = PointUnconverged
	default:
		res.Status = PointOK
	}
	return res
}
