package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/enact-ai/enact/internal/domain/governance"
)

// ReasonServiceUnavailable is the decision reason used when the remote
// decision service cannot be reached or answers with an error status.
const ReasonServiceUnavailable = "decision service unavailable"

// defaultRemoteTimeout bounds the decision round-trip when none is configured.
const defaultRemoteTimeout = 5 * time.Second

// Remote delegates decisions to an external decision service (for example an
// OPA server) by posting the request as {"input": {...}}. The service answers
// either {"result": bool} or {"allow": bool, "reason": "..."}.
//
// On any transport failure or non-2xx status the configured default applies,
// so default_allow=false yields fail-closed behavior.
type Remote struct {
	endpoint     string
	path         string
	headers      map[string]string
	defaultAllow bool
	client       *http.Client
}

// RemoteConfig configures a Remote policy.
type RemoteConfig struct {
	// Endpoint is the decision service base URL, e.g. "http://localhost:8181".
	Endpoint string
	// Path is the decision path, e.g. "/v1/data/enact/allow".
	Path string
	// Headers are sent with every decision request.
	Headers map[string]string
	// Timeout bounds the round-trip (default 5s).
	Timeout time.Duration
	// DefaultAllow applies when the service is unavailable.
	DefaultAllow bool
}

// NewRemote creates a Remote policy.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote policy: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		path:         "/" + strings.TrimLeft(cfg.Path, "/"),
		headers:      cfg.Headers,
		defaultAllow: cfg.DefaultAllow,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

// remoteInput is the wire format of the decision request body.
type remoteInput struct {
	AgentID       string         `json:"agent_id"`
	ToolName      string         `json:"tool_name"`
	FunctionName  string         `json:"function_name"`
	Arguments     map[string]any `json:"arguments"`
	Context       map[string]any `json:"context,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// remoteResponse covers both accepted response shapes. Result is the OPA
// convention; Allow/Reason is the explicit decision form.
type remoteResponse struct {
	Result *json.RawMessage `json:"result"`
	Allow  *bool            `json:"allow"`
	Reason string           `json:"reason"`
}

// Evaluate implements Policy by delegating to the remote service.
func (p *Remote) Evaluate(ctx context.Context, req governance.Request) (governance.Decision, error) {
	body, err := json.Marshal(map[string]remoteInput{"input": {
		AgentID:       req.AgentID,
		ToolName:      req.ToolName,
		FunctionName:  req.FunctionName,
		Arguments:     req.Arguments,
		Context:       req.Context,
		CorrelationID: req.CorrelationID,
		Timestamp:     req.Timestamp,
	}})
	if err != nil {
		return governance.Decision{}, fmt.Errorf("marshal decision input: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+p.path, bytes.NewReader(body))
	if err != nil {
		return governance.Decision{}, fmt.Errorf("build decision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return p.unavailable(), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.unavailable(), nil
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return p.unavailable(), nil
	}

	return p.toDecision(parsed), nil
}

// unavailable builds the default decision for an unreachable service.
func (p *Remote) unavailable() governance.Decision {
	return governance.Decision{Allow: p.defaultAllow, Reason: ReasonServiceUnavailable}
}

// toDecision maps a service response onto a governance decision.
func (p *Remote) toDecision(r remoteResponse) governance.Decision {
	if r.Allow != nil {
		reason := r.Reason
		if reason == "" {
			if *r.Allow {
				reason = "allowed by decision service"
			} else {
				reason = "denied by decision service"
			}
		}
		return governance.Decision{Allow: *r.Allow, Reason: reason}
	}

	if r.Result != nil {
		var asBool bool
		if err := json.Unmarshal(*r.Result, &asBool); err == nil {
			if asBool {
				return governance.Allowed("allowed by decision service")
			}
			return governance.Denied("denied by decision service")
		}
		// Nested {"result": {"allow": ..., "reason": ...}} is also accepted.
		var nested remoteResponse
		if err := json.Unmarshal(*r.Result, &nested); err == nil && nested.Allow != nil {
			return p.toDecision(nested)
		}
	}

	return p.unavailable()
}

// Compile-time interface verification.
var _ Policy = (*Remote)(nil)
