package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/mlt-io/mlt/audit"
	"github.com/mlt-io/mlt/completion"
)

func TestReadRecordsRoundTrips(t *testing.T) {
	w := &audit.Writer{}
	w.Append(audit.NewRecord(completion.Completion{MsgID: 1, Type: completion.Send, RemoteCommID: 2, Bytes: 10}, time.Unix(100, 0)))
	w.Append(audit.NewRecord(completion.Completion{MsgID: 2, Type: completion.Recv, RemoteCommID: 1, Bytes: 20}, time.Unix(200, 0)))

	buf := &bytes.Buffer{}
	if err := w.Flush(buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	records, err := readRecords(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readRecords: %v", err)
	}
	if len(records) != 2 || records[0].MsgID != 1 || records[1].MsgID != 2 {
		t.Fatalf("records = %+v", records)
	}
}

func TestMergeSortedOrdersByTimestamp(t *testing.T) {
	a := []audit.Record{{MsgID: 2, Timestamp: time.Unix(200, 0)}}
	b := []audit.Record{{MsgID: 1, Timestamp: time.Unix(100, 0)}}

	merged := mergeSorted([][]audit.Record{a, b})
	if len(merged) != 2 || merged[0].MsgID != 1 || merged[1].MsgID != 2 {
		t.Fatalf("merged = %+v, want msg_id 1 then 2", merged)
	}
}

func TestMainWithNoArgsCallsLogFatal(t *testing.T) {
	defer func(args []string, lf func(...interface{})) {
		os.Args = args
		logFatal = lf
	}(os.Args, logFatal)

	os.Args = []string{"auditcat"}
	called := false
	logFatal = func(args ...interface{}) { called = true }

	main()
	if !called {
		t.Error("expected logFatal to be invoked when no files are given")
	}
}
