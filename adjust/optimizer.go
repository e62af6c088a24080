package adjust

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// Strategy selects the search algorithm. All strategies share one contract:
// minimize the cost within the admissible time band, terminate within the
// iteration budget, and report non-convergence instead of looping.
type Strategy string

const (
	// StrategyDescent holds the unified time fixed at the target and walks
	// the master pulse count with a shrinking step.
	StrategyDescent Strategy = "descent"
	// StrategyGrid scans (time, pulses) jointly in three refinement phases.
	StrategyGrid Strategy = "grid"
	// StrategyTimeStep sweeps the admissible band in fixed time increments,
	// scaling the master pulses proportionally at each step.
	StrategyTimeStep Strategy = "timestep"
)

// Settings configures one optimization run for one point.
type Settings struct {
	Strategy Strategy
	// TargetTime is the nominal unified collection time (240 or 360 s).
	TargetTime *apd.Decimal
	// BandMin/BandMax bound the admissible unified time. Both equal to
	// TargetTime when the time is fixed.
	BandMin *apd.Decimal
	BandMax *apd.Decimal
	// Tolerance is the convergence threshold on the cost.
	Tolerance     *apd.Decimal
	MaxIterations int
	// TimeStep is the increment for StrategyTimeStep.
	TimeStep    *apd.Decimal
	MasterIndex int
}

// Solution is the optimizer outcome for one point. A non-converged solution
// still carries the best candidate seen; it is never silently promoted to an
// exact result.
type Solution struct {
	UnifiedTime  *apd.Decimal
	MasterPulses *apd.Decimal
	Cost         *apd.Decimal
	Iterations   int
	Converged    bool
	InBand       bool
	// CostHistory records every accepted (improving) cost, in order.
	CostHistory []*apd.Decimal
}

type candidate struct {
	time   *apd.Decimal
	pulses *apd.Decimal
	cost   *apd.Decimal
}

// searcher evaluates the cost function for one point.
type searcher struct {
	ev       *engine.Evaluator
	ctx      *apd.Context
	cst      engine.Constants
	original engine.Point
	props    Proportions
	targets  Targets
	settings Settings
	evals    int
}

// Optimize finds (unifiedTime, masterPulses) reproducing the target
// aggregates within tolerance. The cost is
// relErr(meanReferenceFlow)^2 + relErr(meanMeterFlow)^2 against the targets.
//
// Tie-break between equal-cost candidates is deterministic: smaller
// |unifiedTime - targetTime| wins, then smaller |masterPulses - original|.
func Optimize(ev *engine.Evaluator, cst engine.Constants, p engine.Point, props Proportions, targets Targets, s Settings) (Solution, error) {
	sr := &searcher{
		ev:       ev,
		ctx:      ev.Context(),
		cst:      cst,
		original: p,
		props:    props,
		targets:  targets,
		settings: s,
	}

	var (
		sol Solution
		err error
	)
	switch s.Strategy {
	case StrategyGrid:
		sol, err = sr.grid()
	case StrategyTimeStep:
		sol, err = sr.timeStep()
	case StrategyDescent, "":
		sol, err = sr.descent()
	default:
		return Solution{}, fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if err != nil {
		return Solution{}, err
	}

	sol.InBand = inBand(sol.UnifiedTime, s.BandMin, s.BandMax)
	return sol, nil
}

func inBand(t, min, max *apd.Decimal) bool {
	return t.Cmp(min) >= 0 && t.Cmp(max) <= 0
}

// cost reconstructs the point at (time, pulses) and compares the recomputed
// mean flows to the targets.
func (sr *searcher) cost(time, pulses *apd.Decimal) (*apd.Decimal, error) {
	sr.evals++
	trial, err := sr.props.Reconstruct(sr.ctx, sr.original, pulses, time)
	if err != nil {
		return nil, err
	}
	agg, _, err := sr.ev.Aggregate(sr.cst, trial)
	if err != nil {
		return nil, err
	}

	refErr, err := sr.relErr(agg.MeanReferenceFlow, sr.targets.MeanReferenceFlow)
	if err != nil {
		return nil, err
	}
	medErr, err := sr.relErr(agg.MeanMeterFlow, sr.targets.MeanMeterFlow)
	if err != nil {
		return nil, err
	}

	refSq := new(apd.Decimal)
	if _, err := sr.ctx.Mul(refSq, refErr, refErr); err != nil {
		return nil, err
	}
	medSq := new(apd.Decimal)
	if _, err := sr.ctx.Mul(medSq, medErr, medErr); err != nil {
		return nil, err
	}
	total := new(apd.Decimal)
	if _, err := sr.ctx.Add(total, refSq, medSq); err != nil {
		return nil, err
	}
	return total, nil
}

// relErr is (computed - target) / target, or the absolute difference when
// the target is zero.
func (sr *searcher) relErr(computed, target *apd.Decimal) (*apd.Decimal, error) {
	diff := new(apd.Decimal)
	if _, err := sr.ctx.Sub(diff, computed, target); err != nil {
		return nil, err
	}
	if target.IsZero() {
		return diff, nil
	}
	rel := new(apd.Decimal)
	if _, err := sr.ctx.Quo(rel, diff, target); err != nil {
		return nil, err
	}
	return rel, nil
}

func (sr *searcher) eval(time, pulses *apd.Decimal) (candidate, error) {
	c, err := sr.cost(time, pulses)
	if err != nil {
		return candidate{}, err
	}
	return candidate{
		time:   new(apd.Decimal).Set(time),
		pulses: new(apd.Decimal).Set(pulses),
		cost:   c,
	}, nil
}

// better reports whether a strictly beats b under the deterministic
// tie-break rule.
func (sr *searcher) better(a, b candidate) bool {
	switch a.cost.Cmp(b.cost) {
	case -1:
		return true
	case 1:
		return false
	}
	// Equal cost: prefer the time closest to the nominal target.
	da := absDiff(sr.ctx, a.time, sr.settings.TargetTime)
	db := absDiff(sr.ctx, b.time, sr.settings.TargetTime)
	switch da.Cmp(db) {
	case -1:
		return true
	case 1:
		return false
	}
	// Then the pulse count closest to the original master.
	pa := absDiff(sr.ctx, a.pulses, sr.props.MasterPulses)
	pb := absDiff(sr.ctx, b.pulses, sr.props.MasterPulses)
	return pa.Cmp(pb) < 0
}

func absDiff(ctx *apd.Context, a, b *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	if _, err := ctx.Sub(d, a, b); err != nil {
		return new(apd.Decimal)
	}
	d.Abs(d)
	return d
}

func (sr *searcher) converged(c candidate) bool {
	return c.cost.Cmp(sr.settings.Tolerance) <= 0
}

// descent walks the master pulse count at the fixed target time. The step
// starts wide and halves whenever neither neighbor improves the cost, so the
// accepted-cost sequence is non-increasing by construction.
func (sr *searcher) descent() (Solution, error) {
	s := sr.settings
	time := s.TargetTime

	best, err := sr.eval(time, sr.props.MasterPulses)
	if err != nil {
		return Solution{}, err
	}
	history := []*apd.Decimal{best.cost}

	step, _, err := apd.NewFromString("64")
	if err != nil {
		return Solution{}, err
	}
	minStep, _, err := apd.NewFromString("1e-12")
	if err != nil {
		return Solution{}, err
	}
	two := apd.New(2, 0)

	for sr.evals < s.MaxIterations {
		if sr.converged(best) {
			return sr.solution(best, history, true), nil
		}

		up := new(apd.Decimal)
		if _, err := sr.ctx.Add(up, best.pulses, step); err != nil {
			return Solution{}, err
		}
		down := new(apd.Decimal)
		if _, err := sr.ctx.Sub(down, best.pulses, step); err != nil {
			return Solution{}, err
		}

		improved := false
		for _, pulses := range []*apd.Decimal{up, down} {
			if pulses.Sign() <= 0 {
				continue
			}
			cand, err := sr.eval(time, pulses)
			if err != nil {
				return Solution{}, err
			}
			if sr.better(cand, best) {
				best = cand
				history = append(history, cand.cost)
				improved = true
				break
			}
			if sr.evals >= s.MaxIterations {
				break
			}
		}
		if !improved {
			if _, err := sr.ctx.Quo(step, step, two); err != nil {
				return Solution{}, err
			}
			if step.Cmp(minStep) < 0 {
				break
			}
		}
	}
	return sr.solution(best, history, sr.converged(best)), nil
}

// gridPhase describes one refinement pass of the joint search.
type gridPhase struct {
	timeSpan  int    // half-span in time steps
	timeStep  string // seconds per step
	pulseSpan int    // half-span in pulses
}

// grid scans (time, pulses) around the current best in three progressively
// finer phases, clamping trial times to the admissible band.
func (sr *searcher) grid() (Solution, error) {
	s := sr.settings

	best, err := sr.eval(clamp(sr.ctx, s.TargetTime, s.BandMin, s.BandMax), sr.props.MasterPulses)
	if err != nil {
		return Solution{}, err
	}
	history := []*apd.Decimal{best.cost}
	if sr.converged(best) {
		return sr.solution(best, history, true), nil
	}

	phases := []gridPhase{
		{timeSpan: 20, timeStep: "0.1", pulseSpan: 100},
		{timeSpan: 10, timeStep: "0.01", pulseSpan: 20},
		{timeSpan: 5, timeStep: "0.001", pulseSpan: 5},
	}

	for _, phase := range phases {
		step, _, err := apd.NewFromString(phase.timeStep)
		if err != nil {
			return Solution{}, err
		}
		centerTime := new(apd.Decimal).Set(best.time)
		centerPulses := new(apd.Decimal).Set(best.pulses)

		for dt := -phase.timeSpan; dt <= phase.timeSpan; dt++ {
			time := new(apd.Decimal)
			if _, err := sr.ctx.Mul(time, step, apd.New(int64(dt), 0)); err != nil {
				return Solution{}, err
			}
			if _, err := sr.ctx.Add(time, centerTime, time); err != nil {
				return Solution{}, err
			}
			time = clamp(sr.ctx, time, s.BandMin, s.BandMax)

			for dp := -phase.pulseSpan; dp <= phase.pulseSpan; dp++ {
				if sr.evals >= s.MaxIterations {
					return sr.solution(best, history, sr.converged(best)), nil
				}
				pulses := new(apd.Decimal)
				if _, err := sr.ctx.Add(pulses, centerPulses, apd.New(int64(dp), 0)); err != nil {
					return Solution{}, err
				}
				if pulses.Sign() <= 0 {
					continue
				}
				cand, err := sr.eval(time, pulses)
				if err != nil {
					return Solution{}, err
				}
				if sr.better(cand, best) {
					best = cand
					history = append(history, cand.cost)
				}
			}
		}
		if sr.converged(best) {
			return sr.solution(best, history, true), nil
		}
	}
	return sr.solution(best, history, sr.converged(best)), nil
}

// timeStep sweeps the band in fixed increments. At each trial time the
// master pulses are scaled by time/originalMasterTime, which preserves the
// master's flow; the first candidate under tolerance is accepted.
func (sr *searcher) timeStep() (Solution, error) {
	s := sr.settings
	masterTime := sr.original.Measurements[sr.props.MasterIndex].Time

	var best candidate
	var history []*apd.Decimal
	haveBest := false

	time := new(apd.Decimal).Set(s.BandMin)
	for time.Cmp(s.BandMax) <= 0 && sr.evals < s.MaxIterations {
		factor := new(apd.Decimal)
		if _, err := sr.ctx.Quo(factor, time, masterTime); err != nil {
			return Solution{}, err
		}
		pulses := new(apd.Decimal)
		if _, err := sr.ctx.Mul(pulses, sr.props.MasterPulses, factor); err != nil {
			return Solution{}, err
		}

		cand, err := sr.eval(time, pulses)
		if err != nil {
			return Solution{}, err
		}
		if !haveBest || sr.better(cand, best) {
			best = cand
			history = append(history, cand.cost)
			haveBest = true
		}
		if sr.converged(cand) {
			return sr.solution(cand, history, true), nil
		}

		next := new(apd.Decimal)
		if _, err := sr.ctx.Add(next, time, s.TimeStep); err != nil {
			return Solution{}, err
		}
		time = next
	}
	if !haveBest {
		// Empty band: fall back to the nominal target so the caller still
		// gets a candidate to inspect.
		cand, err := sr.eval(s.TargetTime, sr.props.MasterPulses)
		if err != nil {
			return Solution{}, err
		}
		best = cand
		history = append(history, cand.cost)
	}
	return sr.solution(best, history, sr.converged(best)), nil
}

func (sr *searcher) solution(c candidate, history []*apd.Decimal, converged bool) Solution {
	return Solution{
		UnifiedTime:  c.time,
		MasterPulses: c.pulses,
		Cost:         c.cost,
		Iterations:   sr.evals,
		Converged:    converged,
		CostHistory:  history,
	}
}

func clamp(ctx *apd.Context, v, min, max *apd.Decimal) *apd.Decimal {
	if v.Cmp(min) < 0 {
		return new(apd.Decimal).Set(min)
	}
	if v.Cmp(max) > 0 {
		return new(apd.Decimal).Set(max)
	}
	return v
}
