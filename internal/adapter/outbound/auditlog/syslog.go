package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/enact-ai/enact/internal/domain/audit"
)

// Syslog severity and default facility per RFC 5424.
const (
	severityInfo = 6
	// FacilityLocal0 is the default facility for audit records.
	FacilityLocal0 = 16
)

// SyslogSinkConfig configures a SyslogSink.
type SyslogSinkConfig struct {
	// Network is "udp" or "tcp". Default "udp".
	Network string
	// Address is the collector host:port. Default "localhost:514".
	Address string
	// Facility is the syslog facility code. Default local0.
	Facility int
	// AppName appears in the syslog header. Default "enact".
	AppName string
	// DialTimeout bounds connection establishment. Default 5s.
	DialTimeout time.Duration
}

// withDefaults fills zero fields with their defaults.
func (c SyslogSinkConfig) withDefaults() SyslogSinkConfig {
	if c.Network == "" {
		c.Network = "udp"
	}
	if c.Address == "" {
		c.Address = "localhost:514"
	}
	if c.Facility <= 0 {
		c.Facility = FacilityLocal0
	}
	if c.AppName == "" {
		c.AppName = "enact"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// SyslogSink frames each audit record as an RFC 5424 message with the JSON
// record as the message body. UDP sends one datagram per record; TCP uses
// octet-counting framing. The connection is dialed lazily and redialed
// after a write failure.
type SyslogSink struct {
	cfg      SyslogSinkConfig
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogSink creates a SyslogSink. No connection is made until the
// first record.
func NewSyslogSink(cfg SyslogSinkConfig) *SyslogSink {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "-"
	}
	return &SyslogSink{cfg: cfg.withDefaults(), hostname: hostname}
}

// Log frames and sends the record.
func (s *SyslogSink) Log(_ context.Context, rec audit.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	msg := s.frame(rec.Timestamp, body)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(msg); err != nil {
		// One redial; the collector may have restarted.
		s.closeLocked()
		if err := s.writeLocked(msg); err != nil {
			return fmt.Errorf("send syslog record: %w", err)
		}
	}
	return nil
}

// frame builds the RFC 5424 message for a record.
func (s *SyslogSink) frame(ts time.Time, body []byte) []byte {
	pri := s.cfg.Facility*8 + severityInfo
	header := fmt.Sprintf("<%d>1 %s %s %s %d - - ",
		pri, ts.Format(time.RFC3339), s.hostname, s.cfg.AppName, os.Getpid())

	msg := append([]byte(header), body...)
	if s.cfg.Network == "tcp" {
		// Octet-counting framing per RFC 6587.
		return append([]byte(fmt.Sprintf("%d ", len(msg))), msg...)
	}
	return msg
}

// writeLocked sends the framed message, dialing first if needed.
// Lock must be held.
func (s *SyslogSink) writeLocked(msg []byte) error {
	if s.conn == nil {
		conn, err := net.DialTimeout(s.cfg.Network, s.cfg.Address, s.cfg.DialTimeout)
		if err != nil {
			return err
		}
		s.conn = conn
	}
	_, err := s.conn.Write(msg)
	return err
}

// closeLocked drops the connection. Lock must be held.
func (s *SyslogSink) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close releases the connection.
func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// Compile-time interface verification.
var _ audit.Auditor = (*SyslogSink)(nil)
