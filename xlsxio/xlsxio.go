// Package xlsxio reads calibration workbooks and writes corrected copies.
// The cell layout mirrors the certificate template: a "Coleta de Dados"
// sheet with one block of three measurement rows per point, plus correction
// coefficients on the uncertainty sheet.
package xlsxio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/xuri/excelize/v2"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// CorrectedSuffix is appended to the workbook base name on write.
const CorrectedSuffix = "_corrigido"

// Layout locates every input cell in the workbook template.
type Layout struct {
	DataSheet        string
	UncertaintySheet string

	// Constant cells on the data sheet.
	StandardPulseCell  string // mL per pulse
	EquipmentPulseCell string // mL per pulse
	TempConstantCell   string
	TempFactorCell     string
	ModeCell           string

	// Correction coefficient cells on the uncertainty sheet.
	TimeCoeffACell string
	TimeCoeffBCell string
	TempCoeffACell string
	TempCoeffBCell string

	// Point blocks: the first block header row, the distance between
	// blocks, and the measurement-row offset inside a block.
	FirstPointRow     int
	PointStride       int
	MeasurementOffset int
	MaxPoints         int

	// Measurement columns.
	PulsesCol      string
	TimeCol        string
	ReadingCol     string
	TemperatureCol string
}

// DefaultLayout matches the standard certificate template.
func DefaultLayout() Layout {
	return Layout{
		DataSheet:          "Coleta de Dados",
		UncertaintySheet:   "Estimativa da Incerteza",
		StandardPulseCell:  "I50",
		EquipmentPulseCell: "AD50",
		TempConstantCell:   "R51",
		TempFactorCell:     "U51",
		ModeCell:           "X16",
		TimeCoeffACell:     "BU23",
		TimeCoeffBCell:     "BW23",
		TempCoeffACell:     "BU26",
		TempCoeffBCell:     "BW26",
		FirstPointRow:      50,
		PointStride:        9,
		MeasurementOffset:  4,
		MaxPoints:          20,
		PulsesCol:          "C",
		TimeCol:            "F",
		ReadingCol:         "O",
		TemperatureCol:     "R",
	}
}

// Workbook is the parsed input: the constant set plus every populated point.
type Workbook struct {
	Path      string
	Constants engine.Constants
	Points    []engine.Point
}

// Read parses the workbook at path. Scanning stops at the first point block
// whose pulse cell is empty.
func Read(path string, layout Layout) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	wb := &Workbook{Path: path}
	if wb.Constants, err = readConstants(f, layout); err != nil {
		return nil, fmt.Errorf("workbook %s: %w", filepath.Base(path), err)
	}
	if wb.Points, err = readPoints(f, layout); err != nil {
		return nil, fmt.Errorf("workbook %s: %w", filepath.Base(path), err)
	}
	if len(wb.Points) == 0 {
		return nil, fmt.Errorf("workbook %s: no calibration points on sheet %q", filepath.Base(path), layout.DataSheet)
	}
	return wb, nil
}

func readConstants(f *excelize.File, layout Layout) (engine.Constants, error) {
	var cst engine.Constants
	cells := []struct {
		sheet, cell string
		dst         **apd.Decimal
	}{
		{layout.DataSheet, layout.StandardPulseCell, &cst.StandardPulseVolume},
		{layout.DataSheet, layout.EquipmentPulseCell, &cst.EquipmentPulseVolume},
		{layout.DataSheet, layout.TempConstantCell, &cst.TempConstant},
		{layout.DataSheet, layout.TempFactorCell, &cst.TempFactor},
		{layout.UncertaintySheet, layout.TimeCoeffACell, &cst.TimeCoeffA},
		{layout.UncertaintySheet, layout.TimeCoeffBCell, &cst.TimeCoeffB},
		{layout.UncertaintySheet, layout.TempCoeffACell, &cst.TempCoeffA},
		{layout.UncertaintySheet, layout.TempCoeffBCell, &cst.TempCoeffB},
	}
	for _, c := range cells {
		raw, err := f.GetCellValue(c.sheet, c.cell)
		if err != nil {
			return engine.Constants{}, fmt.Errorf("read %s!%s: %w", c.sheet, c.cell, err)
		}
		v, err := ParseDecimal(raw)
		if err != nil {
			return engine.Constants{}, fmt.Errorf("cell %s!%s: %w", c.sheet, c.cell, err)
		}
		*c.dst = v
	}
	if cst.StandardPulseVolume.IsZero() {
		return engine.Constants{}, fmt.Errorf("cell %s!%s: standard pulse volume is zero", layout.DataSheet, layout.StandardPulseCell)
	}

	mode, err := f.GetCellValue(layout.DataSheet, layout.ModeCell)
	if err != nil {
		return engine.Constants{}, fmt.Errorf("read %s!%s: %w", layout.DataSheet, layout.ModeCell, err)
	}
	cst.Mode = parseMode(mode)
	return cst, nil
}

func parseMode(raw string) engine.Mode {
	switch engine.Mode(strings.TrimSpace(raw)) {
	case engine.ModeVisualDynamic:
		return engine.ModeVisualDynamic
	case engine.ModeVisualStatic:
		return engine.ModeVisualStatic
	default:
		return engine.ModeTimed
	}
}

func readPoints(f *excelize.File, layout Layout) ([]engine.Point, error) {
	var points []engine.Point
	row := layout.FirstPointRow
	for n := 1; n <= layout.MaxPoints; n++ {
		first, err := f.GetCellValue(layout.DataSheet, cell(layout.PulsesCol, row+layout.MeasurementOffset))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(first) == "" {
			break
		}

		p := engine.Point{Number: n}
		for i := 0; i < engine.MeasurementsPerPoint; i++ {
			r := row + layout.MeasurementOffset + i
			m, err := readMeasurement(f, layout, r)
			if err != nil {
				return nil, fmt.Errorf("point %d row %d: %w", n, r, err)
			}
			p.Measurements = append(p.Measurements, m)
		}
		points = append(points, p)
		row += layout.PointStride
	}
	return points, nil
}

func readMeasurement(f *excelize.File, layout Layout, row int) (engine.Measurement, error) {
	var m engine.Measurement
	cols := []struct {
		col string
		dst **apd.Decimal
	}{
		{layout.PulsesCol, &m.Pulses},
		{layout.TimeCol, &m.Time},
		{layout.ReadingCol, &m.Reading},
		{layout.TemperatureCol, &m.Temperature},
	}
	for _, c := range cols {
		raw, err := f.GetCellValue(layout.DataSheet, cell(c.col, row))
		if err != nil {
			return engine.Measurement{}, err
		}
		v, err := ParseDecimal(raw)
		if err != nil {
			return engine.Measurement{}, fmt.Errorf("column %s: %w", c.col, err)
		}
		*c.dst = v
	}
	return m, nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

// ParseDecimal converts a raw cell string into a decimal. Empty cells parse
// as zero. Brazilian formatting is normalized: thousands dots are stripped
// when a decimal comma is present, and the comma becomes a dot.
func ParseDecimal(raw string) (*apd.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "---" {
		return new(apd.Decimal), nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	s = strings.ReplaceAll(s, " ", "")
	v, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", raw, err)
	}
	return v, nil
}

// CorrectedPath derives the output path: base_corrigido.xlsx next to the
// input file.
func CorrectedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + CorrectedSuffix + ext
}

// IsCorrected reports whether the file name already carries the corrected
// suffix, so output files are never re-processed as inputs.
func IsCorrected(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(base, CorrectedSuffix)
}

// WriteCorrected clones the source workbook into outPath, overwriting
// pulses, time and reading for each given point and preserving every other
// cell. Pulse counts are written as plain integers, times and readings as
// full-precision decimal strings.
func WriteCorrected(srcPath, outPath string, layout Layout, points []engine.Point) error {
	f, err := excelize.OpenFile(srcPath)
	if err != nil {
		return fmt.Errorf("open workbook %s: %w", srcPath, err)
	}
	defer f.Close()

	for _, p := range points {
		base := layout.FirstPointRow + (p.Number-1)*layout.PointStride + layout.MeasurementOffset
		for i, m := range p.Measurements {
			row := base + i
			sets := []struct {
				col, value string
			}{
				{layout.PulsesCol, m.Pulses.Text('f')},
				{layout.TimeCol, m.Time.Text('f')},
				{layout.ReadingCol, m.Reading.Text('f')},
			}
			for _, s := range sets {
				if err := f.SetCellValue(layout.DataSheet, cell(s.col, row), s.value); err != nil {
					return fmt.Errorf("write %s%d: %w", s.col, row, err)
				}
			}
		}
	}

	if err := f.SaveAs(outPath); err != nil {
		return fmt.Errorf("save corrected workbook: %w", err)
	}
	return nil
}
