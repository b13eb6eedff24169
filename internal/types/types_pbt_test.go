package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStatuses = []interface{}{
	StatusPending, StatusProcessing, StatusInProgress, StatusCompleted, StatusFailed,
}

// Terminal statuses are final: nothing may leave them.
func TestTerminalStatusesAreFinal(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("no transition out of a terminal status", prop.ForAll(
		func(from, to JobStatus) bool {
			if !from.IsTerminal() {
				return true
			}
			return !CanTransition(from, to)
		},
		gen.OneConstOf(allStatuses...),
		gen.OneConstOf(allStatuses...),
	))

	properties.Property("nothing transitions back to pending", prop.ForAll(
		func(from JobStatus) bool {
			return !CanTransition(from, StatusPending)
		},
		gen.OneConstOf(allStatuses...),
	))

	properties.TestingRun(t)
}
