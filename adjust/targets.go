package adjust

import (
	"fmt"

	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
)

// Targets are the certificate aggregates computed once from the unmodified
// original data. They are the values a corrected dataset must reproduce.
type Targets struct {
	engine.Aggregates
}

// ExtractTargets evaluates the original point and fixes its aggregates as
// the optimization targets. Read-only: engine errors propagate unchanged.
func ExtractTargets(ev *engine.Evaluator, cst engine.Constants, p engine.Point) (Targets, error) {
	agg, _, err := ev.Aggregate(cst, p)
	if err != nil {
		return Targets{}, fmt.Errorf("extract targets: %w", err)
	}
	return Targets{Aggregates: agg}, nil
}
