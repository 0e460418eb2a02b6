package sessionizer

import (
	"context"
	"strings"
	"testing"
	"time"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
)

func TestVerify_AcceptsProcessOutput(t *testing.T) {
	s := mustNew(t)
	rows, err := s.Process(context.Background(), []types.Event{
		ev("u1", "p1", "x", 0),
		ev("u1", "p1", "a", 10),
		ev("u1", "p1", "y", 20),
		ev("u1", "p1", "b", 1000),
		ev("u2", "p1", "z", 0),
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := Verify(rows, s.Actions()); err != nil {
		t.Fatalf("expected no violations, got %v", err)
	}
}

func TestCheck_DetectsViolations(t *testing.T) {
	actions := NewActionSet(DefaultActionEvents...)
	key := types.PartitionKey{UserID: "u1", ProductCode: "p1"}
	start := base
	id := types.SessionID(key, start)
	wrongID := "u1#p1#bogus"
	orphan := base.Add(5 * time.Second)
	orphanID := types.SessionID(key, orphan)

	row := func(eventID string, offset int, start *time.Time, id *string) types.SessionRow {
		e := ev("u1", "p1", eventID, offset)
		return types.SessionRow{Event: e, SessionStart: start, SessionID: id, PartitionDate: types.PartitionDateOf(e.Timestamp)}
	}

	tests := []struct {
		name   string
		rows   []types.SessionRow
		reason string
	}{
		{
			name:   "start without action",
			rows:   []types.SessionRow{row("x", 10, &orphan, &orphanID)},
			reason: "does not match any action event",
		},
		{
			name:   "inconsistent id",
			rows:   []types.SessionRow{row("a", 0, &start, &wrongID)},
			reason: "session_id",
		},
		{
			name:   "pending after open",
			rows:   []types.SessionRow{row("a", 0, &start, &id), row("x", 10, nil, nil)},
			reason: "pending row after a session opened",
		},
		{
			name:   "id without start",
			rows:   []types.SessionRow{row("x", 0, nil, &id)},
			reason: "session_id set without session_start",
		},
		{
			name: "wrong partition date",
			rows: []types.SessionRow{func() types.SessionRow {
				r := row("a", 0, &start, &id)
				r.PartitionDate = "1999-01-01"
				return r
			}()},
			reason: "partition_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Check(tt.rows, actions)
			if len(violations) == 0 {
				t.Fatal("expected a violation")
			}
			found := false
			for _, v := range violations {
				if strings.Contains(v.Reason, tt.reason) {
					found = true
				}
			}
			if !found {
				t.Errorf("no violation mentioning %q in %v", tt.reason, violations)
			}
		})
	}
}

func TestVerify_ReturnsSessionError(t *testing.T) {
	actions := NewActionSet(DefaultActionEvents...)
	orphan := base.Add(5 * time.Second)
	orphanID := types.SessionID(types.PartitionKey{UserID: "u1", ProductCode: "p1"}, orphan)
	e := ev("u1", "p1", "x", 10)

	err := Verify([]types.SessionRow{{
		Event:         e,
		SessionStart:  &orphan,
		SessionID:     &orphanID,
		PartitionDate: types.PartitionDateOf(e.Timestamp),
	}}, actions)

	if serrors.GetCode(err) != serrors.CodeInconsistentSession {
		t.Fatalf("expected %s, got %v", serrors.CodeInconsistentSession, err)
	}
}
