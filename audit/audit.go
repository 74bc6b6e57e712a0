// Package audit writes the Communicator's completion stream to CSV for
// offline analysis, supplementing the spec's in-memory CompletionQueue
// with the durable audit trail the original kept of every flow. Grounded
// on cmd/csvtool's gocsv.Marshal usage.
package audit

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/mlt-io/mlt/completion"
)

// Record is one completion event flattened for CSV export. gocsv reads
// field names (and the optional `csv:"..."` tag) to derive column headers.
type Record struct {
	Timestamp    time.Time `csv:"timestamp"`
	MsgID        uint32    `csv:"msg_id"`
	Type         string    `csv:"type"`
	RemoteCommID int32     `csv:"remote_comm_id"`
	Bytes        uint32    `csv:"bytes"`
}

// NewRecord converts a completion.Completion into an auditable Record,
// stamping it with the time it was observed.
func NewRecord(c completion.Completion, observedAt time.Time) Record {
	return Record{
		Timestamp:    observedAt,
		MsgID:        c.MsgID,
		Type:         c.Type.String(),
		RemoteCommID: c.RemoteCommID,
		Bytes:        c.Bytes,
	}
}

// Writer accumulates Records and flushes them to CSV on demand. With Cap
// set, Append keeps only the most recent Cap records (spec §C's "in-memory
// ring of the last N completions"); zero means unbounded.
type Writer struct {
	Cap     int
	records []Record
}

// Append records one completion for later export, trimming the oldest
// entry first if the writer is at capacity.
func (w *Writer) Append(r Record) {
	w.records = append(w.records, r)
	if w.Cap > 0 && len(w.records) > w.Cap {
		w.records = w.records[len(w.records)-w.Cap:]
	}
}

// Len reports how many records are buffered.
func (w *Writer) Len() int { return len(w.records) }

// Records returns a copy of the buffered records, oldest first.
func (w *Writer) Records() []Record {
	out := make([]Record, len(w.records))
	copy(out, w.records)
	return out
}

// Flush marshals all buffered records as CSV to wtr and clears the buffer.
func (w *Writer) Flush(wtr io.Writer) error {
	if len(w.records) == 0 {
		return nil
	}
	if err := gocsv.Marshal(w.records, wtr); err != nil {
		return err
	}
	w.records = nil
	return nil
}
