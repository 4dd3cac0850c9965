// Package auditlog provides the built-in audit sinks: JSON Lines file,
// HTTP, syslog, CloudWatch Logs, and SQLite.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/enact-ai/enact/internal/domain/audit"
)

// FileSink appends one JSON object per line to a log file. Writes are
// serialized under a mutex; the file is opened with owner-only permissions.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (or creates) the audit log file in append mode.
// Parent directories are created as needed.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

// Log writes the record as one JSON line.
func (s *FileSink) Log(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("audit file closed")
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Sync flushes buffered data to disk.
func (s *FileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close syncs and closes the underlying file. Subsequent Log calls fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}

// Compile-time interface verification.
var _ audit.Auditor = (*FileSink)(nil)
