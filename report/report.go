// Package report renders the outcome of one workbook correction run as a
// JSON artifact and a human-readable summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sanesoluti-dev/Script-Planilhas/adjust"
)

// ResidualReport is one aggregate comparison from the verification pass.
type ResidualReport struct {
	Name     string `json:"name"`
	Target   string `json:"target"`
	Computed string `json:"computed"`
	Absolute string `json:"absolute"`
	Relative string `json:"relative"`
	Pass     bool   `json:"pass"`
}

// PointReport is the per-point section of a run report.
type PointReport struct {
	Point        int              `json:"point"`
	Status       string           `json:"status"`
	UnifiedTime  string           `json:"unified_time,omitempty"`
	MasterPulses string           `json:"master_pulses,omitempty"`
	Cost         string           `json:"cost,omitempty"`
	Iterations   int              `json:"iterations,omitempty"`
	Residuals    []ResidualReport `json:"residuals,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// RunReport is the full artifact written next to the corrected workbook.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Workbook    string        `json:"workbook"`
	GeneratedAt time.Time     `json:"generated_at"`
	TargetTime  string        `json:"target_time"`
	Tolerance   string        `json:"tolerance"`
	Strategy    string        `json:"strategy"`
	Points      []PointReport `json:"points"`
	// Success is true only when every point converged in-band and passed
	// verification.
	Success     bool          `json:"success"`
	OK          int           `json:"ok"`
	Unconverged int           `json:"unconverged"`
	OutOfBand   int           `json:"out_of_band"`
	Failed      int           `json:"failed"`
}

// Build assembles a report from the adjustment results.
func Build(runID, workbook string, s adjust.Settings, results []adjust.PointResult) RunReport {
	r := RunReport{
		RunID:       runID,
		Workbook:    workbook,
		GeneratedAt: time.Now().UTC(),
		TargetTime:  s.TargetTime.String(),
		Tolerance:   s.Tolerance.String(),
		Strategy:    string(s.Strategy),
	}
	for _, res := range results {
		pr := PointReport{
			Point:  res.Number,
			Status: string(res.Status),
		}
		switch res.Status {
		case adjust.PointFailed:
			if res.Err != nil {
				pr.Error = res.Err.Error()
			}
		default:
			pr.UnifiedTime = res.Solution.UnifiedTime.String()
			pr.MasterPulses = res.Solution.MasterPulses.String()
			pr.Cost = res.Solution.Cost.String()
			pr.Iterations = res.Solution.Iterations
			for _, resid := range res.Verification.Residuals {
				pr.Residuals = append(pr.Residuals, ResidualReport{
					Name:     resid.Name,
					Target:   resid.Target.String(),
					Computed: resid.Computed.String(),
					Absolute: resid.Absolute.String(),
					Relative: resid.Relative.String(),
					Pass:     resid.Pass,
				})
			}
		}
		switch res.Status {
		case adjust.PointOK:
			r.OK++
		case adjust.PointUnconverged:
			r.Unconverged++
		case adjust.PointOutOfBand:
			r.OutOfBand++
		case adjust.PointFailed:
			r.Failed++
		}
		r.Points = append(r.Points, pr)
	}
	r.Success = len(r.Points) > 0 && r.OK == len(r.Points)
	return r
}

// WriteJSON writes the report to path with stable indentation.
func (r RunReport) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// Summary renders a one-look text digest for logs.
func (r RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workbook=%s points=%d ok=%d unconverged=%d out_of_band=%d failed=%d",
		r.Workbook, len(r.Points), r.OK, r.Unconverged, r.OutOfBand, r.Failed)
	for _, p := range r.Points {
		if p.Status == string(adjust.PointOK) {
			continue
		}
		fmt.Fprintf(&b, "\n  point %d: %s", p.Point, p.Status)
		if p.Error != "" {
			fmt.Fprintf(&b, " (%s)", p.Error)
		} else if p.Cost != "" {
			fmt.Fprintf(&b, " cost=%s", p.Cost)
		}
	}
	return b.String()
}
