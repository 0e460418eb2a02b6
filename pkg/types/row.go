// Package types provides the core data types for the sessionization job.
package types

import (
	"fmt"
	"time"
)

// Event is a single raw user activity event.
type Event struct {
	// UserID identifies the user who triggered the event
	UserID string `json:"user_id"`
	// EventID names the kind of event (e.g. "a", "view"); action events open sessions
	EventID string `json:"event_id"`
	// ProductCode identifies the product the event happened in
	ProductCode string `json:"product_code"`
	// Timestamp is when the event occurred (UTC)
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the natural identity of the event.
func (e Event) Key() NaturalKey {
	return NaturalKey{
		UserID:      e.UserID,
		EventID:     e.EventID,
		ProductCode: e.ProductCode,
		Micros:      e.Timestamp.UnixMicro(),
	}
}

// Partition returns the session timeline the event belongs to.
func (e Event) Partition() PartitionKey {
	return PartitionKey{UserID: e.UserID, ProductCode: e.ProductCode}
}

// SessionRow is an event annotated with its session assignment. It is the
// unit persisted in the session table.
type SessionRow struct {
	Event

	// SessionStart is the timestamp of the action event that opened the
	// session, nil while no session has opened for the partition.
	SessionStart *time.Time `json:"session_start"`
	// SessionID is user_id#product_code#session_start, nil when SessionStart is nil
	SessionID *string `json:"session_id"`
	// PartitionDate is the UTC calendar date of Timestamp (YYYY-MM-DD)
	PartitionDate string `json:"partition_date"`
}

// Pending reports whether the row has not been assigned to a session yet.
func (r SessionRow) Pending() bool {
	return r.SessionStart == nil
}

// SessionIDString returns the session id or "" for pending rows.
func (r SessionRow) SessionIDString() string {
	if r.SessionID == nil {
		return ""
	}
	return *r.SessionID
}

func (r SessionRow) String() string {
	sid := "<pending>"
	if r.SessionID != nil {
		sid = *r.SessionID
	}
	return fmt.Sprintf("%s/%s %s %s -> %s", r.UserID, r.ProductCode, r.EventID, FormatEventTimestamp(r.Timestamp), sid)
}
