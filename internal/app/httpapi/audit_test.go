package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingSink struct {
	entries []AuditEntry
}

func (s *recordingSink) Write(entry AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func auditEntry(path string, status int) AuditEntry {
	return AuditEntry{
		Time:       time.Now().UTC(),
		User:       "ada",
		Path:       path,
		Method:     http.MethodGet,
		Status:     status,
		DurationMS: 12,
	}
}

func TestAuditLogRing(t *testing.T) {
	log := NewAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		log.add(auditEntry("/v1/templates", 200+i))
	}

	entries := log.list()
	if len(entries) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(entries))
	}
	if entries[0].Status != 202 || entries[2].Status != 204 {
		t.Fatalf("expected oldest entries dropped, got %v", entries)
	}
}

func TestAuditLogLimit(t *testing.T) {
	log := NewAuditLog(10, nil)
	for i := 0; i < 4; i++ {
		log.add(auditEntry("/v1/audit", 200))
	}

	if got := log.listLimit(2); len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got := log.listLimit(0); len(got) != 4 {
		t.Fatalf("expected all entries for zero limit, got %d", len(got))
	}
	if got := log.listLimit(100); len(got) != 4 {
		t.Fatalf("expected all entries for oversized limit, got %d", len(got))
	}
}

func TestAuditLogForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	log := NewAuditLog(2, sink)
	log.add(auditEntry("/v1/templates", 201))
	log.add(auditEntry("/v1/filters", 200))
	log.add(auditEntry("/v1/audit", 200))

	// The sink sees every entry even once the ring drops old ones.
	if len(sink.entries) != 3 {
		t.Fatalf("expected 3 sink writes, got %d", len(sink.entries))
	}
	if len(log.list()) != 2 {
		t.Fatalf("expected 2 retained entries, got %d", len(log.list()))
	}
}

func TestFileAuditSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileAuditSink(path)
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}

	if err := sink.Write(auditEntry("/v1/templates", 201)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(auditEntry("/v1/audit", 200)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines+1, err)
		}
		if entry.DurationMS != 12 {
			t.Fatalf("line %d duration = %d, want 12", lines+1, entry.DurationMS)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", lines)
	}
}

func TestNewFileAuditSinkEmptyPath(t *testing.T) {
	sink, err := NewFileAuditSink("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink != nil {
		t.Fatalf("expected nil sink for empty path")
	}
}

func TestCombineAuditSinks(t *testing.T) {
	if CombineAuditSinks() != nil {
		t.Fatalf("expected nil for no sinks")
	}
	if CombineAuditSinks(nil, nil) != nil {
		t.Fatalf("expected nil for all-nil sinks")
	}

	one := &recordingSink{}
	if got := CombineAuditSinks(nil, one); got != AuditSink(one) {
		t.Fatalf("expected single sink passthrough")
	}

	two := &recordingSink{}
	combined := CombineAuditSinks(one, two)
	if err := combined.Write(auditEntry("/v1/templates", 200)); err != nil {
		t.Fatalf("combined write: %v", err)
	}
	if len(one.entries) != 1 || len(two.entries) != 1 {
		t.Fatalf("expected fan-out, got %d and %d", len(one.entries), len(two.entries))
	}
}
