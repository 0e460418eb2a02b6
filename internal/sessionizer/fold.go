package sessionizer

import (
	"sort"
	"time"

	"github.com/arkilian/sessionize/pkg/types"
)

// foldState is the running state of one partition's ordered pass: the
// previous timestamp (for the gap) and the currently open session.
type foldState struct {
	key   types.PartitionKey
	prev  int64
	start *time.Time
	id    *string
}

// step advances the state by one event and returns its assignment.
// An action event opens a session when none is open yet or when the gap to
// the previous event is at least the timeout. Gaps are measured in whole
// seconds, so a gap equal to the timeout opens a new session.
func (st *foldState) step(ev types.Event, isAction bool, timeoutSecs int64) types.SessionRow {
	ts := ev.Timestamp.Unix()
	opens := isAction && (st.start == nil || ts-st.prev >= timeoutSecs)
	if opens {
		start := ev.Timestamp.UTC()
		id := types.SessionID(st.key, start)
		st.start = &start
		st.id = &id
	}
	st.prev = ts

	return types.SessionRow{
		Event:         ev,
		SessionStart:  st.start,
		SessionID:     st.id,
		PartitionDate: types.PartitionDateOf(ev.Timestamp),
	}
}

// foldPartition assigns sessions to all events of a single partition.
// Events are ordered in place.
func foldPartition(key types.PartitionKey, events []types.Event, actions ActionSet, timeoutSecs int64) []types.SessionRow {
	orderPartition(events, actions)

	st := &foldState{key: key}
	rows := make([]types.SessionRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, st.step(ev, actions.Contains(ev.EventID), timeoutSecs))
	}
	return rows
}

// orderPartition sorts a partition by timestamp. Events at the same instant
// put action events first, then order by event_id, so the result does not
// depend on input order.
func orderPartition(events []types.Event, actions ActionSet) {
	sort.Slice(events, func(i, j int) bool {
		return eventLess(events[i], events[j], actions)
	})
}

func eventLess(a, b types.Event, actions ActionSet) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	aa, ba := actions.Contains(a.EventID), actions.Contains(b.EventID)
	if aa != ba {
		return aa
	}
	return a.EventID < b.EventID
}
