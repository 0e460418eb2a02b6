package sessionizer

import (
	"fmt"
	"sort"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
)

// maxReportedViolations caps how many violations are listed in an error.
const maxReportedViolations = 20

// Violation describes a row that breaks a session invariant.
type Violation struct {
	Row    types.SessionRow
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Row, v.Reason)
}

// Check inspects rows for session invariant violations:
//   - partition_date matches the timestamp's calendar date
//   - session_id is consistent with session_start
//   - every session_start equals the timestamp of an action event in the same partition
//   - session_start is non-decreasing in time order
//   - no row is pending once a session has opened in its partition
//
// Rows may be given in any order. Check does not modify rows.
func Check(rows []types.SessionRow, actions ActionSet) []Violation {
	byPartition := make(map[types.PartitionKey][]types.SessionRow)
	for _, r := range rows {
		byPartition[r.Partition()] = append(byPartition[r.Partition()], r)
	}

	keys := make([]types.PartitionKey, 0, len(byPartition))
	for key := range byPartition {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var violations []Violation
	for _, key := range keys {
		sorted := append([]types.SessionRow(nil), byPartition[key]...)
		SortRows(sorted, actions)

		openers := make(map[int64]struct{})
		for _, r := range sorted {
			if actions.Contains(r.EventID) {
				openers[r.Timestamp.UnixMicro()] = struct{}{}
			}
		}

		var last *int64
		for _, r := range sorted {
			if want := types.PartitionDateOf(r.Timestamp); r.PartitionDate != want {
				violations = append(violations, Violation{r, fmt.Sprintf("partition_date %s, want %s", r.PartitionDate, want)})
			}

			if r.SessionStart == nil {
				if r.SessionID != nil {
					violations = append(violations, Violation{r, "session_id set without session_start"})
				}
				if last != nil {
					violations = append(violations, Violation{r, "pending row after a session opened"})
				}
				continue
			}

			start := r.SessionStart.UnixMicro()
			if want := types.SessionID(key, *r.SessionStart); r.SessionID == nil || *r.SessionID != want {
				violations = append(violations, Violation{r, fmt.Sprintf("session_id %q, want %q", r.SessionIDString(), want)})
			}
			if _, ok := openers[start]; !ok {
				violations = append(violations, Violation{r, "session_start does not match any action event"})
			}
			if start > r.Timestamp.UnixMicro() {
				violations = append(violations, Violation{r, "session_start after event timestamp"})
			}
			if last != nil && start < *last {
				violations = append(violations, Violation{r, "session_start decreased"})
			}
			last = &start
		}
	}
	return violations
}

// Verify runs Check and turns any violation into a fatal session error.
func Verify(rows []types.SessionRow, actions ActionSet) error {
	violations := Check(rows, actions)
	if len(violations) == 0 {
		return nil
	}

	reported := make([]string, 0, maxReportedViolations)
	for i, v := range violations {
		if i == maxReportedViolations {
			break
		}
		reported = append(reported, v.String())
	}
	return serrors.NewSessionError(serrors.CodeInconsistentSession,
		fmt.Sprintf("%d session invariant violations", len(violations))).
		WithDetails(map[string]interface{}{"violations": reported})
}
