package types

import "errors"

// Event field errors
var (
	// ErrEmptyUserID is returned when an event has no user_id
	ErrEmptyUserID = errors.New("user_id must not be empty")
	// ErrEmptyEventID is returned when an event has no event_id
	ErrEmptyEventID = errors.New("event_id must not be empty")
	// ErrEmptyProductCode is returned when an event has no product_code
	ErrEmptyProductCode = errors.New("product_code must not be empty")
	// ErrZeroTimestamp is returned when an event has no timestamp
	ErrZeroTimestamp = errors.New("timestamp must be set")
)

// Validate checks that every natural key field of the event is populated.
func (e Event) Validate() error {
	switch {
	case e.UserID == "":
		return ErrEmptyUserID
	case e.EventID == "":
		return ErrEmptyEventID
	case e.ProductCode == "":
		return ErrEmptyProductCode
	case e.Timestamp.IsZero():
		return ErrZeroTimestamp
	}
	return nil
}
