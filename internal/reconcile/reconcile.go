// Package reconcile decides how a candidate session row is applied to the
// persisted table. Decisions are pure functions so the merge rule can be
// tested without a table.
package reconcile

import (
	"github.com/arkilian/sessionize/pkg/types"
)

// Action is the effect a candidate has on the table.
type Action int

const (
	// NoOp leaves the persisted row untouched.
	NoOp Action = iota
	// Update overwrites the persisted row's session assignment.
	Update
	// Insert adds the candidate as a new row.
	Insert
)

func (a Action) String() string {
	switch a {
	case NoOp:
		return "noop"
	case Update:
		return "update"
	case Insert:
		return "insert"
	default:
		return "unknown"
	}
}

// Decide compares the persisted row matching a candidate's natural key (nil
// when there is none) with the candidate.
//
// A matched row is updated when both rows carry a session_id and they
// differ, or when the persisted row is pending and the candidate has
// resolved into a session. A candidate that is pending never overwrites an
// assigned row, the same as a SQL merge where NULL never compares unequal.
func Decide(existing *types.SessionRow, candidate types.SessionRow) Action {
	if existing == nil {
		return Insert
	}
	if existing.SessionID != nil && candidate.SessionID != nil && *existing.SessionID != *candidate.SessionID {
		return Update
	}
	if existing.SessionStart == nil && candidate.SessionStart != nil {
		return Update
	}
	return NoOp
}

// Plan summarizes the decisions for a set of candidates.
type Plan struct {
	Inserts []types.SessionRow
	Updates []types.SessionRow
	NoOps   int
}

// Changes returns the number of rows the plan writes.
func (p *Plan) Changes() int {
	return len(p.Inserts) + len(p.Updates)
}

// Lookup returns the persisted row matching a candidate, or nil.
type Lookup func(candidate types.SessionRow) (*types.SessionRow, error)

// BuildPlan applies Decide to every candidate.
func BuildPlan(candidates []types.SessionRow, lookup Lookup) (*Plan, error) {
	plan := &Plan{}
	for _, c := range candidates {
		existing, err := lookup(c)
		if err != nil {
			return nil, err
		}
		switch Decide(existing, c) {
		case Insert:
			plan.Inserts = append(plan.Inserts, c)
		case Update:
			plan.Updates = append(plan.Updates, c)
		default:
			plan.NoOps++
		}
	}
	return plan, nil
}
