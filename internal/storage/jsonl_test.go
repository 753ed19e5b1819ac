package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

func TestJournalWritesDatedJSONLines(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, "BTC/USD:PERP", "BTC-PERP", 16, 1)
	j.now = func() time.Time { return time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC) }

	before := 12.5
	j.Record(chart.Event{Kind: chart.EventFetchTriggered, BarsBefore: &before})
	j.Record(chart.Event{Kind: chart.EventFetchSkipped, Reason: "refetching"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "2024-03-09", "BTC_USD_PERP.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Market != "BTC-PERP" || entries[0].Kind != chart.EventFetchTriggered || *entries[0].BarsBefore != 12.5 {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Reason != "refetching" {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestJournalRejectsAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), "x", "x", 1, 1)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Write(Entry{}); !errors.Is(err, ErrJournalClosed) {
		t.Fatalf("Write() error = %v, want ErrJournalClosed", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"BTC-PERP":     "BTC-PERP",
		"BTC/USD:PERP": "BTC_USD_PERP",
		" ":            "chart",
		"eth perp":     "eth_perp",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
