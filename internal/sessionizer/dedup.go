package sessionizer

import (
	"fmt"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
)

// maxReportedDuplicates caps how many offending keys are listed in an error.
const maxReportedDuplicates = 10

// Dedup collapses events sharing a natural key into one, keeping the first
// occurrence. Input order of the survivors is preserved.
func Dedup(events []types.Event) []types.Event {
	seen := make(map[types.NaturalKey]struct{}, len(events))
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		key := ev.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// EnsureUnique verifies that no natural key occurs twice. A violation after
// Dedup means the input contract is broken and the run must not proceed.
func EnsureUnique(events []types.Event) error {
	seen := make(map[types.NaturalKey]struct{}, len(events))
	var dups []string
	for _, ev := range events {
		key := ev.Key()
		if _, dup := seen[key]; dup {
			if len(dups) < maxReportedDuplicates {
				dups = append(dups, key.String())
			}
			continue
		}
		seen[key] = struct{}{}
	}
	if len(dups) == 0 {
		return nil
	}
	return serrors.NewValidationError(serrors.CodeDuplicateNaturalKey,
		fmt.Sprintf("%d duplicate natural keys after dedup", len(dups))).
		WithDetails(map[string]interface{}{"keys": dups})
}
