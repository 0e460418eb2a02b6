// Package ingest reads raw daily event batches.
//
// A batch is a CSV file with a header row naming at least the columns
// user_id, event_id, product_code and timestamp (in any order; extra columns
// are ignored). Batches stored as "<date>.csv.sz" are snappy framed.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
)

// Column names expected in the batch header.
const (
	ColUserID      = "user_id"
	ColEventID     = "event_id"
	ColProductCode = "product_code"
	ColTimestamp   = "timestamp"
)

var requiredColumns = []string{ColUserID, ColEventID, ColProductCode, ColTimestamp}

// maxReportedErrors caps the record errors attached to a failure.
const maxReportedErrors = 20

// ReadCSV parses a raw batch. Timestamps without a zone are read as UTC and
// kept to the microsecond. Any bad record aborts the whole batch: an
// unparseable timestamp yields UNPARSEABLE_TIMESTAMP, anything else
// MALFORMED_RECORD.
func ReadCSV(r io.Reader) ([]types.Event, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCategoryValidation, serrors.CodeMalformedRecord,
			"failed to read batch header", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var (
		events []types.Event
		bad    RecordErrors
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				bad = append(bad, &RecordError{Line: parseErr.Line, Message: parseErr.Err.Error()})
				continue
			}
			return nil, serrors.Wrap(serrors.ErrCategoryValidation, serrors.CodeMalformedRecord,
				"failed to read batch", err)
		}

		line, _ := cr.FieldPos(0)
		ev, recErrs := parseRecord(record, index, line)
		if len(recErrs) > 0 {
			bad = append(bad, recErrs...)
			continue
		}
		events = append(events, ev)
	}

	if len(bad) > 0 {
		return nil, batchError(bad)
	}
	return events, nil
}

// ParseTimestamp parses a raw timestamp in any layout dateparse recognizes.
// Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	ts, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC().Truncate(time.Microsecond), nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, serrors.NewValidationError(serrors.CodeMalformedRecord,
			fmt.Sprintf("batch header is missing columns: %s", strings.Join(missing, ", ")))
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int, line int) (types.Event, []*RecordError) {
	field := func(name string) string {
		i := index[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var errs []*RecordError
	ev := types.Event{
		UserID:      field(ColUserID),
		EventID:     field(ColEventID),
		ProductCode: field(ColProductCode),
	}

	raw := field(ColTimestamp)
	if raw == "" {
		errs = append(errs, &RecordError{Line: line, Field: ColTimestamp, Message: "timestamp is required"})
	} else if ts, err := ParseTimestamp(raw); err != nil {
		errs = append(errs, &RecordError{Line: line, Field: ColTimestamp, Message: fmt.Sprintf("cannot parse %q: %v", raw, err)})
	} else {
		ev.Timestamp = ts
	}

	for _, col := range []string{ColUserID, ColEventID, ColProductCode} {
		if field(col) == "" {
			errs = append(errs, &RecordError{Line: line, Field: col, Message: col + " is required"})
		}
	}
	return ev, errs
}

func batchError(bad RecordErrors) error {
	code := serrors.CodeMalformedRecord
	msg := fmt.Sprintf("%d malformed records in batch", len(bad))
	if bad.hasField(ColTimestamp) {
		code = serrors.CodeUnparseableTimestamp
		msg = fmt.Sprintf("%d bad records in batch (unparseable timestamps present)", len(bad))
	}

	reported := bad
	if len(reported) > maxReportedErrors {
		reported = reported[:maxReportedErrors]
	}
	lines := make([]string, len(reported))
	for i, e := range reported {
		lines[i] = e.Error()
	}
	return serrors.Wrap(serrors.ErrCategoryValidation, code, msg, bad).WithDetails(map[string]interface{}{
		"count":   len(bad),
		"records": lines,
	})
}
