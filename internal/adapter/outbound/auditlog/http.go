package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/enact-ai/enact/internal/domain/audit"
)

// DefaultHTTPTimeout bounds each audit POST.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	// URL receives one POST per record with a JSON body.
	URL string
	// Headers are added to every request. Content-Type is always
	// application/json.
	Headers map[string]string
	// Timeout bounds each request. Default 10s.
	Timeout time.Duration
}

// HTTPSink posts each audit record as a JSON body. Any non-2xx response is
// a sink failure.
type HTTPSink struct {
	cfg    HTTPSinkConfig
	client *http.Client
}

// NewHTTPSink creates an HTTPSink.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	return &HTTPSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Log posts the record to the configured URL.
func (s *HTTPSink) Log(ctx context.Context, rec audit.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit record: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audit endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Compile-time interface verification.
var _ audit.Auditor = (*HTTPSink)(nil)
