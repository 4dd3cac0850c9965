package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/enact-ai/enact/internal/domain/audit"
)

func sampleRecord(correlationID string) audit.Record {
	return audit.Record{
		Timestamp:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		AgentID:        "a1",
		Tool:           "files",
		Function:       "read",
		Arguments:      map[string]any{"path": "/etc/app.yaml"},
		Allow:          true,
		Reason:         "no rule matched",
		DurationMS:     1.25,
		CorrelationID:  correlationID,
		DecisionSource: audit.SourcePolicy,
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() error: %v", err)
	}
	defer sink.Close()

	ids := []string{"c-1", "c-2", "c-3"}
	for _, id := range ids {
		if err := sink.Log(context.Background(), sampleRecord(id)); err != nil {
			t.Fatalf("Log(%s) error: %v", id, err)
		}
	}
	if err := sink.Sync(); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var got []string
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", len(got)+1, err)
		}
		got = append(got, rec.CorrelationID)
	}
	if len(got) != 3 {
		t.Fatalf("log has %d lines, want 3", len(got))
	}
	for i, id := range ids {
		if got[i] != id {
			t.Errorf("line %d correlation = %q, want %q", i+1, got[i], id)
		}
	}
}

func TestFileSink_LogAfterClose(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileSink() error: %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := sink.Log(context.Background(), sampleRecord("c-1")); err == nil {
		t.Error("Log() after Close() should fail")
	}
}
