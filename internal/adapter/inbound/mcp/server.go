// Package mcp exposes the governance engine as an MCP middleware: a proxy
// server that mirrors an upstream MCP server's tools and gates every call
// through the engine.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/enact-ai/enact/internal/domain/governance"
	"github.com/enact-ai/enact/internal/domain/reliability"
	"github.com/enact-ai/enact/internal/service"
)

// ProxyConfig configures a governed MCP proxy.
type ProxyConfig struct {
	// AgentID identifies the connected agent in governance requests.
	AgentID string
	// UpstreamCommand launches the upstream MCP server over stdio.
	UpstreamCommand string
	// UpstreamArgs are passed to the upstream command.
	UpstreamArgs []string
	// UpstreamEndpoint connects to an SSE upstream instead of a command.
	UpstreamEndpoint string
}

// Proxy mirrors an upstream MCP server, evaluating every tool call against
// the governance engine before forwarding it. Denied calls are returned to
// the caller as tool errors; outcomes of forwarded calls feed the circuit
// breaker.
type Proxy struct {
	cfg      ProxyConfig
	engine   *service.Engine
	executor *reliability.Executor
	logger   *slog.Logger

	mu       sync.Mutex
	client   *mcp.Client
	upstream *mcp.ClientSession
	server   *mcp.Server
}

// NewProxy creates a Proxy. The executor wraps each forwarded call with the
// timeout/retry discipline; pass nil to forward directly.
func NewProxy(cfg ProxyConfig, engine *service.Engine, executor *reliability.Executor, logger *slog.Logger) *Proxy {
	if cfg.AgentID == "" {
		cfg.AgentID = "mcp-client"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{cfg: cfg, engine: engine, executor: executor, logger: logger}
}

// Connect dials the upstream server, discovers its tools, and registers a
// governed handler for each on the proxy server.
func (p *Proxy) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.client = mcp.NewClient(
		&mcp.Implementation{Name: "enact-proxy", Version: "1.0.0"},
		nil,
	)

	var transport mcp.Transport
	switch {
	case p.cfg.UpstreamEndpoint != "":
		transport = &mcp.SSEClientTransport{Endpoint: p.cfg.UpstreamEndpoint}
	case p.cfg.UpstreamCommand != "":
		cmd := exec.Command(p.cfg.UpstreamCommand, p.cfg.UpstreamArgs...)
		transport = &mcp.CommandTransport{Command: cmd}
	default:
		return fmt.Errorf("no upstream configured")
	}

	session, err := p.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect upstream: %w", err)
	}
	p.upstream = session

	p.server = mcp.NewServer(
		&mcp.Implementation{Name: "enact", Version: "1.0.0"},
		nil,
	)

	count := 0
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			p.logger.Error("list upstream tool", "error", err)
			continue
		}
		p.registerTool(tool)
		count++
	}

	p.logger.Info("connected to upstream", "tools", count)
	return nil
}

// registerTool mirrors one upstream tool onto the proxy server with a
// governed handler.
func (p *Proxy) registerTool(tool *mcp.Tool) {
	name := tool.Name
	p.server.AddTool(&mcp.Tool{
		Name:        name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return p.handleCall(ctx, name, req)
	})
}

// handleCall gates one tool call through the engine and forwards it
// upstream when allowed.
func (p *Proxy) handleCall(ctx context.Context, toolName string, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, reqCtx := splitArguments(req.Params.Arguments)

	decision := p.engine.Evaluate(ctx, governance.Request{
		AgentID:      p.cfg.AgentID,
		ToolName:     toolName,
		FunctionName: toolName,
		Arguments:    args,
		Context:      reqCtx,
	})
	if !decision.Allow {
		return denyResult(decision), nil
	}

	result, err := p.forward(ctx, toolName, args)
	p.engine.RecordOutcome(toolName, err == nil && (result == nil || !result.IsError))
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	return result, nil
}

// forward invokes the upstream tool, optionally under the reliability
// executor.
func (p *Proxy) forward(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	p.mu.Lock()
	upstream := p.upstream
	p.mu.Unlock()
	if upstream == nil {
		return nil, fmt.Errorf("not connected")
	}

	params := &mcp.CallToolParams{Name: toolName, Arguments: args}
	if p.executor == nil {
		return upstream.CallTool(ctx, params)
	}

	var result *mcp.CallToolResult
	err := p.executor.Do(ctx, func(ctx context.Context) error {
		r, err := upstream.CallTool(ctx, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// splitArguments decodes the raw tool arguments and lifts the reserved
// governance keys (justification, confidence) into the request context.
func splitArguments(raw json.RawMessage) (map[string]any, map[string]any) {
	var args map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	if args == nil {
		return nil, nil
	}

	var reqCtx map[string]any
	for _, key := range []string{governance.ContextKeyJustification, governance.ContextKeyConfidence} {
		if v, ok := args[key]; ok {
			if reqCtx == nil {
				reqCtx = make(map[string]any)
			}
			reqCtx[key] = v
			delete(args, key)
		}
	}
	return args, reqCtx
}

// denyResult renders a deny decision as an MCP tool error.
func denyResult(decision governance.Decision) *mcp.CallToolResult {
	text := "denied: " + decision.Reason
	if id, ok := decision.Metadata["approval_id"].(string); ok {
		text += " (approval_id: " + id + ")"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// Run serves the proxy over stdio until the context is cancelled.
func (p *Proxy) Run(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.mu.Unlock()
	if server == nil {
		return fmt.Errorf("not connected")
	}
	return server.Run(ctx, &mcp.StdioTransport{})
}

// Server returns the proxy's MCP server. Tests connect it to in-memory
// transports.
func (p *Proxy) Server() *mcp.Server {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server
}

// Close terminates the upstream session.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.upstream != nil {
		err := p.upstream.Close()
		p.upstream = nil
		return err
	}
	return nil
}
