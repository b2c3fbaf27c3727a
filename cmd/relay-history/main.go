// Command relay-history converts a relay-client archive file (see
// internal/archive) to CSV for offline inspection, optionally filtered to
// lines at or after a human-typed timestamp.
//
// Modeled on cmd/csvtool: read a stream of records, decode, write CSV to
// stdout.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/lith-project/relay-client/internal/archive"
	"github.com/lith-project/relay-client/zstd"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	since = flag.String("since", "", "Only include lines at or after this time (any format dateparse understands). Default includes everything.")

	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

// csvRecord is archive.Record flattened for gocsv, which needs exported
// fields with no embedded structs that recurse into further structs.
type csvRecord struct {
	Timestamp  time.Time `csv:"timestamp"`
	BufferName string    `csv:"buffer"`
	Prefix     string    `csv:"prefix"`
	Message    string    `csv:"message"`
	Highlight  bool      `csv:"highlight"`
}

// readRecords decodes newline-delimited JSON archive.Records from rdr.
func readRecords(rdr io.Reader) ([]*archive.Record, error) {
	dec := json.NewDecoder(rdr)
	var out []*archive.Record
	for {
		var rec archive.Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, &rec)
	}
}

// filterSince drops records strictly before cutoff. A zero cutoff keeps
// everything.
func filterSince(records []*archive.Record, cutoff time.Time) []*archive.Record {
	if cutoff.IsZero() {
		return records
	}
	var out []*archive.Record
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func toCSV(records []*archive.Record, wtr io.Writer) error {
	rows := make([]*csvRecord, 0, len(records))
	for _, r := range records {
		rows = append(rows, &csvRecord{
			Timestamp:  r.Timestamp,
			BufferName: r.BufferName,
			Prefix:     r.Prefix,
			Message:    r.Message,
			Highlight:  r.Highlight,
		})
	}
	return gocsv.Marshal(rows, wtr)
}

// openFile either opens a file, or opens and unzips a file that ends with
// .zst, matching the teacher's csvtool convention.
func openFile(fn string) (io.ReadCloser, error) {
	if strings.HasSuffix(fn, ".zst") {
		return zstd.NewReader(fn), nil
	}
	return os.Open(fn)
}

func main() {
	flag.Parse()
	args := flag.Args()

	var cutoff time.Time
	if *since != "" {
		t, err := dateparse.ParseAny(*since)
		rtx.Must(err, "Could not parse -since %q", *since)
		cutoff = t
	}

	var source io.ReadCloser
	var err error
	source = os.Stdin
	if len(args) == 1 {
		source, err = openFile(args[0])
		rtx.Must(err, "Could not open file %q", args[0])
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
	}
	defer source.Close()

	records, err := readRecords(source)
	rtx.Must(err, "Could not read archive records")
	records = filterSince(records, cutoff)
	rtx.Must(toCSV(records, os.Stdout), "Could not convert input to CSV")
}
