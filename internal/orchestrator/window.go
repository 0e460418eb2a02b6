package orchestrator

import (
	"fmt"
	"sort"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
)

// Lookback bounds the history an incremental run recomputes.
type Lookback struct {
	// FullDays: partitions from processDate-FullDays onward are read in full.
	FullDays int
	// ActionOnlyDaysBack: the partition processDate-ActionOnlyDaysBack is
	// read for action events only. Zero disables it.
	ActionOnlyDaysBack int
	// MergeFloorDays: candidates dated before processDate-MergeFloorDays are
	// never written.
	MergeFloorDays int
}

// DefaultLookback returns the standard five full days plus the action
// events of the sixth day, merging only at or after the process date.
func DefaultLookback() Lookback {
	return Lookback{FullDays: 5, ActionOnlyDaysBack: 6}
}

// Window is the resolved date range of one incremental run.
type Window struct {
	ProcessDate string
	// From is the first partition_date read in full.
	From string
	// ActionDay is the partition_date read for action events only, or "".
	ActionDay string
	// Floor is the first partition_date the merge may write.
	Floor string
}

// NewWindow resolves the window for processDate.
func NewWindow(processDate string, lb Lookback) (Window, error) {
	if _, err := types.ParseDate(processDate); err != nil {
		return Window{}, serrors.NewValidationError(serrors.CodeInvalidProcessDate,
			fmt.Sprintf("process date %q is not a YYYY-MM-DD date", processDate))
	}
	if err := lb.validate(); err != nil {
		return Window{}, err
	}

	w := Window{ProcessDate: processDate}
	// ParseDate succeeded, so AddDays cannot fail.
	w.From, _ = types.AddDays(processDate, -lb.FullDays)
	w.Floor, _ = types.AddDays(processDate, -lb.MergeFloorDays)
	if lb.ActionOnlyDaysBack > 0 {
		w.ActionDay, _ = types.AddDays(processDate, -lb.ActionOnlyDaysBack)
	}
	return w, nil
}

// validate rejects lookbacks whose action-only day falls inside the full
// days or whose floor lies outside the window.
func (lb Lookback) validate() error {
	invalid := func(reason string) error {
		return serrors.NewValidationError(serrors.CodeInvalidLookback,
			fmt.Sprintf("invalid lookback %+v: %s", lb, reason))
	}
	switch {
	case lb.FullDays < 0:
		return invalid("full days must not be negative")
	case lb.ActionOnlyDaysBack < 0:
		return invalid("action-only day must not be negative")
	case lb.ActionOnlyDaysBack != 0 && lb.ActionOnlyDaysBack <= lb.FullDays:
		return invalid("action-only day must lie before the full days")
	case lb.MergeFloorDays < 0 || lb.MergeFloorDays > lb.FullDays:
		return invalid("merge floor must lie within the full days")
	}
	return nil
}

// AffectedPairs returns the distinct (user_id, product_code) pairs of
// events, sorted.
func AffectedPairs(events []types.Event) []types.PartitionKey {
	seen := make(map[types.PartitionKey]struct{})
	var pairs []types.PartitionKey
	for _, ev := range events {
		k := ev.Partition()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
	return pairs
}
