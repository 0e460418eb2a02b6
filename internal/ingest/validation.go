package ingest

import (
	"fmt"
	"strings"
)

// RecordError describes one bad record in a raw batch.
type RecordError struct {
	Line    int
	Field   string
	Message string
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("line %d, field %q: %s", e.Line, e.Field, e.Message)
}

// RecordErrors is a collection of record errors.
type RecordErrors []*RecordError

func (e RecordErrors) Error() string {
	if len(e) == 0 {
		return "no record errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d record errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// hasField reports whether any error concerns the named field.
func (e RecordErrors) hasField(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}
