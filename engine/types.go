package engine

import "github.com/cockroachdb/apd/v3"

// Mode identifies how the meter under test was read during collection.
// The two "visual" modes mean the operator read the totalizer directly,
// so the reading is already a flow value; the timed mode derives flow
// from the reading and the corrected collection time.
type Mode string

const (
	ModeVisualDynamic Mode = "Visual com início dinâmico"
	ModeVisualStatic  Mode = "Visual com início estática"
	ModeTimed         Mode = "Leitura com tempo"
)

// Direct reports whether the meter reading is used as the flow value as-is.
func (m Mode) Direct() bool {
	return m == ModeVisualDynamic || m == ModeVisualStatic
}

// Constants holds the per-workbook calibration scalars. They are loaded once
// and shared read-only across every point of a run.
type Constants struct {
	// StandardPulseVolume is the raw standard pulse volume in mL per pulse;
	// the engine divides by 1000 to work in liters.
	StandardPulseVolume *apd.Decimal
	// EquipmentPulseVolume is the pulse volume of the meter under test.
	// Carried for the writer; the certificate formulas do not use it.
	EquipmentPulseVolume *apd.Decimal
	// TempConstant and TempFactor form the flow-dependent volume correction:
	// (TempConstant + TempFactor*flow)/100 of the raw volume is subtracted.
	TempConstant *apd.Decimal
	TempFactor   *apd.Decimal
	// TimeCoeffA/TimeCoeffB correct the raw collection time:
	// corrected = raw - (raw*A + B).
	TimeCoeffA *apd.Decimal
	TimeCoeffB *apd.Decimal
	// TempCoeffA/TempCoeffB correct the raw water temperature the same way.
	TempCoeffA *apd.Decimal
	TempCoeffB *apd.Decimal
	Mode       Mode
}

// Measurement is one physical reading of a calibration point.
type Measurement struct {
	// Pulses is the raw pulse count from the standard. Integer-valued but
	// kept as a decimal so trial values can move through fractional space
	// during optimization.
	Pulses *apd.Decimal
	// Time is the raw collection time in seconds.
	Time *apd.Decimal
	// Reading is the raw meter reading in liters.
	Reading *apd.Decimal
	// Temperature is the raw water temperature in °C.
	Temperature *apd.Decimal
}

// Point is an ordered set of exactly MeasurementsPerPoint measurements
// sharing one nominal flow regime.
type Point struct {
	Number       int
	Measurements []Measurement
}

// MeasurementsPerPoint is fixed by the collection procedure.
const MeasurementsPerPoint = 3

// Result holds the derived values for a single measurement.
type Result struct {
	CorrectedTime  *apd.Decimal
	CorrectedTemp  *apd.Decimal
	ReferenceTotal *apd.Decimal
	ReferenceFlow  *apd.Decimal
	MeterFlow      *apd.Decimal
	PercentError   *apd.Decimal
}

// Aggregates are the four certificate outputs of a calibration point. Once
// computed from original data they must survive any correction unchanged.
type Aggregates struct {
	MeanReferenceFlow *apd.Decimal
	MeanMeterFlow     *apd.Decimal
	Trend             *apd.Decimal
	StdDev            *apd.Decimal
}
