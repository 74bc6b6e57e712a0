// Command auditcat concatenates one or more CSV completion-audit files
// (as written by comm.Communicator.FlushAudit, spec §C) into a single CSV
// on stdout, sorted by timestamp. Adapted from cmd/csvtool's
// open-then-gocsv-Marshal shape; the teacher's zstd/netlink archive reading
// doesn't apply here since FlushAudit already writes plain CSV.
package main

import (
	"io"
	"log"
	"os"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/mlt-io/mlt/audit"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// A variable to enable mocking for testing, matching the teacher's pattern.
var logFatal = log.Fatal

func readRecords(rdr io.Reader) ([]audit.Record, error) {
	var records []audit.Record
	if err := gocsv.Unmarshal(rdr, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func mergeSorted(files [][]audit.Record) []audit.Record {
	var all []audit.Record
	for _, f := range files {
		all = append(all, f...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		logFatal("Usage: auditcat FILE [FILE...]")
		return
	}

	var perFile [][]audit.Record
	for _, fn := range args {
		f, err := os.Open(fn)
		if err != nil {
			logFatal("Could not open ", fn, ": ", err)
			return
		}
		records, err := readRecords(f)
		f.Close()
		if err != nil {
			logFatal("Could not parse ", fn, ": ", err)
			return
		}
		perFile = append(perFile, records)
	}

	if err := gocsv.Marshal(mergeSorted(perFile), os.Stdout); err != nil {
		logFatal("Could not write merged CSV: ", err)
	}
}
