// Package memory provides in-memory implementations of outbound ports,
// used in tests and for single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/enact-ai/enact/internal/domain/audit"
)

const defaultRecentCap = 1000

// Auditor implements audit.Auditor with a bounded in-memory ring buffer.
type Auditor struct {
	mu     sync.Mutex
	recent []audit.Record
	cap    int
}

// NewAuditor creates an Auditor. An optional capacity parameter sets the
// ring buffer size (default 1000).
func NewAuditor(capacity ...int) *Auditor {
	c := defaultRecentCap
	if len(capacity) > 0 && capacity[0] > 0 {
		c = capacity[0]
	}
	return &Auditor{recent: make([]audit.Record, 0, c), cap: c}
}

// Log stores the record, dropping the oldest when the buffer is full.
func (a *Auditor) Log(_ context.Context, rec audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.recent) >= a.cap {
		copy(a.recent, a.recent[1:])
		a.recent[len(a.recent)-1] = rec
	} else {
		a.recent = append(a.recent, rec)
	}
	return nil
}

// Recent returns the last n records, newest first.
func (a *Auditor) Recent(n int) []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := len(a.recent)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	result := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		result[i] = a.recent[total-1-i]
	}
	return result
}

// Len returns the number of buffered records.
func (a *Auditor) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recent)
}

// Compile-time interface verification.
var _ audit.Auditor = (*Auditor)(nil)
