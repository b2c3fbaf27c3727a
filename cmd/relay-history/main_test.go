package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lith-project/relay-client/internal/archive"
	"github.com/m-lab/go/rtx"
)

func sampleRecords() []*archive.Record {
	return []*archive.Record{
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), BufferName: "#a", Message: "first"},
		{Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), BufferName: "#a", Message: "second"},
		{Timestamp: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), BufferName: "#b", Message: "third"},
	}
}

func TestReadRecordsDecodesJSONLStream(t *testing.T) {
	var buf bytes.Buffer
	for _, r := range sampleRecords() {
		buf.WriteString(`{"Timestamp":"` + r.Timestamp.Format(time.RFC3339) + `","BufferName":"` + r.BufferName + `","Message":"` + r.Message + `"}` + "\n")
	}

	got, err := readRecords(&buf)
	rtx.Must(err, "readRecords failed")
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[1].Message != "second" {
		t.Errorf("got[1].Message = %q, want %q", got[1].Message, "second")
	}
}

func TestFilterSinceZeroCutoffKeepsEverything(t *testing.T) {
	records := sampleRecords()
	got := filterSince(records, time.Time{})
	if len(got) != len(records) {
		t.Errorf("got %d records, want %d", len(got), len(records))
	}
}

func TestFilterSinceDropsEarlierRecords(t *testing.T) {
	records := sampleRecords()
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	got := filterSince(records, cutoff)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Message != "second" || got[1].Message != "third" {
		t.Errorf("got %+v", got)
	}
}

func TestToCSVIncludesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	rtx.Must(toCSV(sampleRecords(), &buf), "toCSV failed")
	out := buf.String()
	if !strings.Contains(out, "buffer") || !strings.Contains(out, "message") {
		t.Errorf("CSV output missing expected headers: %s", out)
	}
	if !strings.Contains(out, "first") || !strings.Contains(out, "third") {
		t.Errorf("CSV output missing expected rows: %s", out)
	}
}

func TestToCSVEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	rtx.Must(toCSV(nil, &buf), "toCSV failed")
}
