// Package engine implements the certificate formula chain for flow-meter
// calibration measurements under arbitrary-precision decimal arithmetic.
// Every operation goes through an explicit apd context so the precision is a
// parameter of the call, never ambient state.
package engine

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

var (
	// ErrDivisionByZero is returned when a corrected time or reference
	// total evaluates to exactly zero. It aborts the affected point.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrIncompletePoint is returned when a point does not carry exactly
	// three measurements.
	ErrIncompletePoint = errors.New("calibration point requires 3 measurements")
)

// MinPrecision and MaxPrecision bound the recognized decimal precision.
const (
	MinPrecision = 28
	MaxPrecision = 50
)

// Evaluator runs the formula chain at a fixed decimal precision. It is
// stateless apart from the precision setting and safe for concurrent use.
type Evaluator struct {
	ctx *apd.Context
}

// New returns an Evaluator with the given number of significant digits,
// clamped to the recognized 28..50 range.
func New(precision uint32) *Evaluator {
	if precision < MinPrecision {
		precision = MinPrecision
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundHalfUp
	return &Evaluator{ctx: ctx}
}

// Context exposes the evaluator's decimal context for callers that need to
// perform auxiliary arithmetic at the same precision.
func (e *Evaluator) Context() *apd.Context { return e.ctx }

// calc accumulates the first arithmetic error so the formula chain can be
// written without an error check per operation.
type calc struct {
	ctx *apd.Context
	err error
}

func (c *calc) add(a, b *apd.Decimal) *apd.Decimal {
	r := new(apd.Decimal)
	if c.err == nil {
		_, c.err = c.ctx.Add(r, a, b)
	}
	return r
}

func (c *calc) sub(a, b *apd.Decimal) *apd.Decimal {
	r := new(apd.Decimal)
	if c.err == nil {
		_, c.err = c.ctx.Sub(r, a, b)
	}
	return r
}

func (c *calc) mul(a, b *apd.Decimal) *apd.Decimal {
	r := new(apd.Decimal)
	if c.err == nil {
		_, c.err = c.ctx.Mul(r, a, b)
	}
	return r
}

func (c *calc) div(a, b *apd.Decimal) *apd.Decimal {
	r := new(apd.Decimal)
	if c.err != nil {
		return r
	}
	if b.IsZero() {
		c.err = ErrDivisionByZero
		return r
	}
	_, c.err = c.ctx.Quo(r, a, b)
	return r
}

func d(s string) *apd.Decimal {
	v, _, err := apd.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("engine: bad literal %q: %v", s, err))
	}
	return v
}

var (
	thousand = d("1000")
	hundred  = d("100")
	hour     = d("3600")
)

// Evaluate runs the per-measurement formula chain:
//
//	correctedTime  = rawTime - (rawTime*timeCoeffA + timeCoeffB)
//	correctedTemp  = rawTemp - (rawTemp*tempCoeffA + tempCoeffB)
//	volume         = pulses * standardPulseVolume/1000
//	referenceTotal = volume - ((tempConstant + tempFactor*(volume/correctedTime*3600))/100) * volume
//	referenceFlow  = referenceTotal / correctedTime * 3600
//	meterFlow      = reading                          (direct modes)
//	               = reading / correctedTime * 3600   (timed mode)
//	percentError   = (reading - referenceTotal) / referenceTotal * 100
func (e *Evaluator) Evaluate(cst Constants, m Measurement) (Result, error) {
	c := &calc{ctx: e.ctx}

	correctedTime := c.sub(m.Time, c.add(c.mul(m.Time, cst.TimeCoeffA), cst.TimeCoeffB))
	correctedTemp := c.sub(m.Temperature, c.add(c.mul(m.Temperature, cst.TempCoeffA), cst.TempCoeffB))

	volumePerPulse := c.div(cst.StandardPulseVolume, thousand)
	volume := c.mul(m.Pulses, volumePerPulse)

	rawFlow := c.mul(c.div(volume, correctedTime), hour)
	correction := c.div(c.add(cst.TempConstant, c.mul(cst.TempFactor, rawFlow)), hundred)
	referenceTotal := c.sub(volume, c.mul(correction, volume))

	referenceFlow := c.mul(c.div(referenceTotal, correctedTime), hour)

	var meterFlow *apd.Decimal
	if cst.Mode.Direct() {
		meterFlow = new(apd.Decimal).Set(m.Reading)
	} else {
		meterFlow = c.mul(c.div(m.Reading, correctedTime), hour)
	}

	percentError := c.mul(c.div(c.sub(m.Reading, referenceTotal), referenceTotal), hundred)

	if c.err != nil {
		return Result{}, c.err
	}
	return Result{
		CorrectedTime:  correctedTime,
		CorrectedTemp:  correctedTemp,
		ReferenceTotal: referenceTotal,
		ReferenceFlow:  referenceFlow,
		MeterFlow:      meterFlow,
		PercentError:   percentError,
	}, nil
}

// Aggregate evaluates every measurement of the point and derives the four
// certificate aggregates. The point must carry exactly three measurements.
func (e *Evaluator) Aggregate(cst Constants, p Point) (Aggregates, []Result, error) {
	if len(p.Measurements) != MeasurementsPerPoint {
		return Aggregates{}, nil, fmt.Errorf("point %d has %d measurements: %w",
			p.Number, len(p.Measurements), ErrIncompletePoint)
	}

	results := make([]Result, 0, MeasurementsPerPoint)
	for i, m := range p.Measurements {
		r, err := e.Evaluate(cst, m)
		if err != nil {
			return Aggregates{}, nil, fmt.Errorf("point %d measurement %d: %w", p.Number, i+1, err)
		}
		results = append(results, r)
	}

	refFlows := make([]*apd.Decimal, MeasurementsPerPoint)
	meterFlows := make([]*apd.Decimal, MeasurementsPerPoint)
	errorsPct := make([]*apd.Decimal, MeasurementsPerPoint)
	for i, r := range results {
		refFlows[i] = r.ReferenceFlow
		meterFlows[i] = r.MeterFlow
		errorsPct[i] = r.PercentError
	}

	c := &calc{ctx: e.ctx}
	agg := Aggregates{
		MeanReferenceFlow: c.mean(refFlows),
		MeanMeterFlow:     c.mean(meterFlows),
		Trend:             c.mean(errorsPct),
		StdDev:            c.sampleStdDev(errorsPct),
	}
	if c.err != nil {
		return Aggregates{}, nil, fmt.Errorf("point %d: %w", p.Number, c.err)
	}
	return agg, results, nil
}

func (c *calc) mean(values []*apd.Decimal) *apd.Decimal {
	sum := new(apd.Decimal)
	for _, v := range values {
		sum = c.add(sum, v)
	}
	n := apd.New(int64(len(values)), 0)
	return c.div(sum, n)
}

// sampleStdDev computes the unbiased sample standard deviation (STDEV.S):
// sqrt(sum((v - mean)^2) / (n-1)).
func (c *calc) sampleStdDev(values []*apd.Decimal) *apd.Decimal {
	m := c.mean(values)
	sumSq := new(apd.Decimal)
	for _, v := range values {
		dev := c.sub(v, m)
		sumSq = c.add(sumSq, c.mul(dev, dev))
	}
	variance := c.div(sumSq, apd.New(int64(len(values)-1), 0))
	r := new(apd.Decimal)
	if c.err == nil {
		_, c.err = c.ctx.Sqrt(r, variance)
	}
	return r
}
