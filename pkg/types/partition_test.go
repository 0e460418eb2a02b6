package types

import (
	"testing"
	"time"
)

func TestPartitionDateOf(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{"midnight", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{"last second", time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC), "2024-03-01"},
		{"non-utc input", time.Date(2024, 3, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600)), "2024-03-01"},
		{"non-utc previous day", time.Date(2024, 3, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600)), "2024-02-29"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PartitionDateOf(tt.ts); got != tt.want {
				t.Errorf("PartitionDateOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAddDays(t *testing.T) {
	got, err := AddDays("2024-03-01", -5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-02-25" {
		t.Errorf("AddDays() = %s, want 2024-02-25", got)
	}

	if _, err := AddDays("03/01/2024", 1); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestSessionID(t *testing.T) {
	key := PartitionKey{UserID: "u1", ProductCode: "p9"}
	start := time.Date(2024, 3, 1, 10, 15, 30, 500, time.UTC)

	if got := SessionID(key, start); got != "u1#p9#2024-03-01 10:15:30" {
		t.Errorf("SessionID() = %q", got)
	}
}

func TestEventValidate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	valid := Event{UserID: "u", EventID: "a", ProductCode: "p", Timestamp: ts}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	missing := valid
	missing.ProductCode = ""
	if err := missing.Validate(); err != ErrEmptyProductCode {
		t.Errorf("expected ErrEmptyProductCode, got %v", err)
	}

	zero := valid
	zero.Timestamp = time.Time{}
	if err := zero.Validate(); err != ErrZeroTimestamp {
		t.Errorf("expected ErrZeroTimestamp, got %v", err)
	}
}

func TestNaturalKey_MicrosecondResolution(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Event{UserID: "u", EventID: "a", ProductCode: "p", Timestamp: base.Add(250 * time.Millisecond)}
	b := a
	b.Timestamp = base.Add(750 * time.Millisecond)
	if a.Key() == b.Key() {
		t.Errorf("keys differing below one second should be distinct: %v", a.Key())
	}

	c := a
	c.Timestamp = a.Timestamp.Add(300 * time.Nanosecond)
	if a.Key() != c.Key() {
		t.Errorf("keys differing below one microsecond should be equal: %v vs %v", a.Key(), c.Key())
	}

	if got, want := a.Key().String(), "(u, a, p, 2024-03-01 10:00:00.25)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
