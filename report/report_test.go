package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/apd/v3"

	"github.com/Sanesoluti-dev/Script-Planilhas/adjust"
)

func dec(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	v, _, err := apd.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func sampleResults(t *testing.T) []adjust.PointResult {
	return []adjust.PointResult{
		{
			Number: 1,
			Status: adjust.PointOK,
			Solution: adjust.Solution{
				UnifiedTime:  dec(t, "240"),
				MasterPulses: dec(t, "338601"),
				Cost:         dec(t, "1e-22"),
				Iterations:   42,
				Converged:    true,
				InBand:       true,
			},
			Verification: adjust.Verification{
				Pass: true,
				Residuals: []adjust.Residual{
					{Name: "mean_reference_flow", Target: dec(t, "1014.5"), Computed: dec(t, "1014.5"), Absolute: dec(t, "0"), Relative: dec(t, "0"), Pass: true},
				},
			},
		},
		{
			Number: 2,
			Status: adjust.PointFailed,
			Err:    errors.New("master measurement has zero pulses or reading"),
		},
	}
}

func sampleSettings(t *testing.T) adjust.Settings {
	return adjust.Settings{
		Strategy:   adjust.StrategyDescent,
		TargetTime: dec(t, "240"),
		Tolerance:  dec(t, "1e-10"),
	}
}

func TestBuildCountsStatuses(t *testing.T) {
	r := Build("run-1", "certificado.xlsx", sampleSettings(t), sampleResults(t))
	if r.OK != 1 || r.Failed != 1 || r.Unconverged != 0 || r.OutOfBand != 0 {
		t.Fatalf("counts ok=%d unconverged=%d out_of_band=%d failed=%d", r.OK, r.Unconverged, r.OutOfBand, r.Failed)
	}
	if r.Success {
		t.Fatalf("run with a failed point reported success")
	}
	if r.Points[0].MasterPulses != "338601" {
		t.Fatalf("point 1 master pulses = %s", r.Points[0].MasterPulses)
	}
	if r.Points[1].Error == "" {
		t.Fatalf("failed point is missing its error")
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	r := Build("run-1", "certificado.xlsx", sampleSettings(t), sampleResults(t))
	path := filepath.Join(t.TempDir(), "run-1.json")
	if err := r.WriteJSON(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var back RunReport
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.RunID != "run-1" || len(back.Points) != 2 {
		t.Fatalf("round trip lost data: %+v", back)
	}
}

func TestSummaryListsProblemPoints(t *testing.T) {
	r := Build("run-1", "certificado.xlsx", sampleSettings(t), sampleResults(t))
	s := r.Summary()
	if !strings.Contains(s, "ok=1") || !strings.Contains(s, "failed=1") {
		t.Fatalf("summary missing counts: %s", s)
	}
	if !strings.Contains(s, "point 2: failed") {
		t.Fatalf("summary missing failed point: %s", s)
	}
	if strings.Contains(s, "point 1:") {
		t.Fatalf("summary should not list healthy points: %s", s)
	}
}
