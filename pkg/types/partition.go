package types

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the layout of partition dates and process dates.
	DateLayout = "2006-01-02"

	// TimestampLayout is how timestamps are rendered inside session ids.
	TimestampLayout = "2006-01-02 15:04:05"

	// EventTimestampLayout renders event timestamps with their fraction, if any.
	EventTimestampLayout = "2006-01-02 15:04:05.999999"
)

// PartitionKey identifies an independent session timeline.
type PartitionKey struct {
	UserID      string `json:"user_id"`
	ProductCode string `json:"product_code"`
}

func (k PartitionKey) String() string {
	return k.UserID + "#" + k.ProductCode
}

// Less orders partition keys by user then product.
func (k PartitionKey) Less(other PartitionKey) bool {
	if k.UserID != other.UserID {
		return k.UserID < other.UserID
	}
	return k.ProductCode < other.ProductCode
}

// NaturalKey is the identity of an event: (user_id, event_id, product_code, timestamp).
// The timestamp is held at microsecond resolution, so events within the same
// second remain distinct.
type NaturalKey struct {
	UserID      string
	EventID     string
	ProductCode string
	Micros      int64
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s)", k.UserID, k.EventID, k.ProductCode,
		FormatEventTimestamp(time.UnixMicro(k.Micros)))
}

// PartitionDateOf returns the YYYY-MM-DD partition date of a timestamp in UTC.
func PartitionDateOf(ts time.Time) string {
	return ts.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(date string, n int) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, n).Format(DateLayout), nil
}

// FormatTimestamp renders a timestamp at second resolution in UTC.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// FormatEventTimestamp renders an event timestamp in UTC, keeping any
// sub-second fraction.
func FormatEventTimestamp(ts time.Time) string {
	return ts.UTC().Format(EventTimestampLayout)
}

// SessionID builds the session identity user_id#product_code#session_start.
func SessionID(key PartitionKey, start time.Time) string {
	return key.UserID + "#" + key.ProductCode + "#" + FormatTimestamp(start)
}
