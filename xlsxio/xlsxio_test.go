package xlsxio

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/xuri/excelize/v2"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

func dec(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	v, _, err := apd.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

// writeFixture builds a minimal certificate workbook with two points.
func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	layout := DefaultLayout()
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(layout.DataSheet); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	if _, err := f.NewSheet(layout.UncertaintySheet); err != nil {
		t.Fatalf("new sheet: %v", err)
	}

	set := func(sheet, cell, value string) {
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			t.Fatalf("set %s!%s: %v", sheet, cell, err)
		}
	}
	set(layout.DataSheet, layout.StandardPulseCell, "200")
	set(layout.DataSheet, layout.EquipmentPulseCell, "100")
	set(layout.DataSheet, layout.TempConstantCell, "0,5")
	set(layout.DataSheet, layout.TempFactorCell, "0,001")
	set(layout.DataSheet, layout.ModeCell, "Leitura com tempo")
	set(layout.UncertaintySheet, layout.TimeCoeffACell, "0,0000375")
	set(layout.UncertaintySheet, layout.TimeCoeffBCell, "0,0177")
	set(layout.UncertaintySheet, layout.TempCoeffACell, "0")
	set(layout.UncertaintySheet, layout.TempCoeffBCell, "0")

	points := [][][4]string{
		{
			{"239934", "170,11", "47,9325", "23,3"},
			{"239937", "170,12", "47,9351", "23,3"},
			{"239931", "170,10", "47,9305", "23,4"},
		},
		{
			{"120011", "170,05", "23,9841", "23,5"},
			{"120007", "170,06", "23,9833", "23,5"},
			{"120013", "170,04", "23,9848", "23,5"},
		},
	}
	for pi, rows := range points {
		base := layout.FirstPointRow + pi*layout.PointStride + layout.MeasurementOffset
		for ri, vals := range rows {
			row := base + ri
			set(layout.DataSheet, cell(layout.PulsesCol, row), vals[0])
			set(layout.DataSheet, cell(layout.TimeCol, row), vals[1])
			set(layout.DataSheet, cell(layout.ReadingCol, row), vals[2])
			set(layout.DataSheet, cell(layout.TemperatureCol, row), vals[3])
		}
	}

	path := filepath.Join(dir, "certificado.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save fixture: %v", err)
	}
	return path
}

func TestReadWorkbook(t *testing.T) {
	path := writeFixture(t, t.TempDir())

	wb, err := Read(path, DefaultLayout())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(wb.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(wb.Points))
	}
	if wb.Constants.Mode != engine.ModeTimed {
		t.Fatalf("mode = %q, want timed", wb.Constants.Mode)
	}

	p := wb.Points[0]
	if p.Number != 1 || len(p.Measurements) != 3 {
		t.Fatalf("point 1 malformed: number=%d measurements=%d", p.Number, len(p.Measurements))
	}
	got := p.Measurements[0]
	if got.Pulses.String() != "239934" {
		t.Fatalf("pulses = %s, want 239934", got.Pulses)
	}
	// Brazilian decimal comma must come through as a decimal point.
	if got.Time.String() != "170.11" {
		t.Fatalf("time = %s, want 170.11", got.Time)
	}
	if wb.Constants.TimeCoeffA.String() != "0.0000375" {
		t.Fatalf("time coeff A = %s, want 0.0000375", wb.Constants.TimeCoeffA)
	}
}

func TestReadEmptyWorkbook(t *testing.T) {
	layout := DefaultLayout()
	f := excelize.NewFile()
	if _, err := f.NewSheet(layout.DataSheet); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	if _, err := f.NewSheet(layout.UncertaintySheet); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	if err := f.SetCellValue(layout.DataSheet, layout.StandardPulseCell, "200"); err != nil {
		t.Fatalf("set: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vazio.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.Close()

	if _, err := Read(path, layout); err == nil {
		t.Fatalf("expected error for workbook without points")
	}
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"170,11", "170.11"},
		{"1.234,56", "1234.56"},
		{"239934", "239934"},
		{"47.9325", "47.9325"},
		{"", "0"},
		{"---", "0"},
		{" 0,5 ", "0.5"},
	}
	for _, c := range cases {
		v, err := ParseDecimal(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if v.String() != c.want {
			t.Fatalf("parse %q = %s, want %s", c.in, v, c.want)
		}
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatalf("expected error for non-numeric cell")
	}
}

func TestCorrectedPath(t *testing.T) {
	if got := CorrectedPath("/data/certificado.xlsx"); got != "/data/certificado_corrigido.xlsx" {
		t.Fatalf("corrected path = %s", got)
	}
	if !IsCorrected("/data/certificado_corrigido.xlsx") {
		t.Fatalf("corrected file not recognized")
	}
	if IsCorrected("/data/certificado.xlsx") {
		t.Fatalf("input file misclassified as corrected")
	}
}

func TestWriteCorrectedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	layout := DefaultLayout()

	wb, err := Read(path, layout)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// Unify point 1 at 240 s with bumped integer pulses.
	corrected := wb.Points[0]
	for i := range corrected.Measurements {
		m := &corrected.Measurements[i]
		m.Time = dec(t, "240")
		m.Pulses = dec(t, "338600")
	}

	out := CorrectedPath(path)
	if err := WriteCorrected(path, out, layout, []engine.Point{corrected}); err != nil {
		t.Fatalf("write corrected: %v", err)
	}

	back, err := Read(out, layout)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	for i, m := range back.Points[0].Measurements {
		if m.Time.Cmp(dec(t, "240")) != 0 {
			t.Fatalf("measurement %d time = %s, want 240", i+1, m.Time)
		}
		if m.Pulses.Cmp(dec(t, "338600")) != 0 {
			t.Fatalf("measurement %d pulses = %s, want 338600", i+1, m.Pulses)
		}
	}
	// Point 2 must be untouched.
	if back.Points[1].Measurements[0].Pulses.String() != "120011" {
		t.Fatalf("point 2 pulses changed: %s", back.Points[1].Measurements[0].Pulses)
	}
}
