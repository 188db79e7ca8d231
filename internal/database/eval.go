package database

import (
	"fmt"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// Stores without a query engine evaluate conditions with the in-memory
// predicate only.

func checkEvaluable(conds core.Conditions) error {
	if !conds.Evaluable() {
		return fmt.Errorf("%w: raw expression without predicate: %s", core.ErrInvalidConditions, conds)
	}
	return nil
}

func filterRecords(records []core.Record, conds core.Conditions) []core.Record {
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		if conds.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

func applyValues(r, values core.Record) core.Record {
	merged := r.Clone()
	for k, v := range values {
		merged[k] = v
	}
	return merged
}
