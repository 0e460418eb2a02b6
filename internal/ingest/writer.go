package ingest

import (
	"encoding/csv"
	"io"

	"github.com/arkilian/sessionize/pkg/types"
)

// WriteCSV writes events in batch format with a header row.
func WriteCSV(w io.Writer, events []types.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requiredColumns); err != nil {
		return err
	}
	for _, ev := range events {
		if err := cw.Write([]string{
			ev.UserID,
			ev.EventID,
			ev.ProductCode,
			types.FormatEventTimestamp(ev.Timestamp),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
