package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	mcpproxy "github.com/enact-ai/enact/internal/adapter/inbound/mcp"
	"github.com/enact-ai/enact/internal/adapter/outbound/auditlog"
	"github.com/enact-ai/enact/internal/config"
	"github.com/enact-ai/enact/internal/domain/audit"
	"github.com/enact-ai/enact/internal/domain/governance"
	"github.com/enact-ai/enact/internal/domain/intent"
	"github.com/enact-ai/enact/internal/domain/oversight"
	"github.com/enact-ai/enact/internal/domain/policy"
	"github.com/enact-ai/enact/internal/domain/registry"
	"github.com/enact-ai/enact/internal/domain/reliability"
	"github.com/enact-ai/enact/internal/domain/safety/quota"
	"github.com/enact-ai/enact/internal/domain/safety/ratelimit"
	"github.com/enact-ai/enact/internal/service"
)

var traceStdout bool

var serveCmd = &cobra.Command{
	Use:   "serve [-- command [args...]]",
	Short: "Start the governed MCP proxy",
	Long: `Start the enact proxy. It connects to the upstream MCP server,
mirrors its tools, and evaluates every tool call against the configured
governance pipeline before forwarding it.

Examples:
  # Proxy a stdio MCP server
  enact serve -- npx @modelcontextprotocol/server-filesystem /tmp

  # Proxy a remote SSE server from the config file
  enact --config enact.yaml serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "Export engine trace spans to stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(args) > 0 {
		cfg.Upstream.Command = args[0]
		cfg.Upstream.Args = args[1:]
		cfg.Upstream.Endpoint = ""
	}
	if cfg.Upstream.Command == "" && cfg.Upstream.Endpoint == "" {
		return fmt.Errorf("no upstream configured: set upstream.command or upstream.endpoint, or pass a command after --")
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if traceStdout {
		shutdown, err := initTracing()
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	engine, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor := reliability.NewExecutor(reliability.RetryConfig{})
	proxy := mcpproxy.NewProxy(mcpproxy.ProxyConfig{
		AgentID:          cfg.AgentID,
		UpstreamCommand:  cfg.Upstream.Command,
		UpstreamArgs:     cfg.Upstream.Args,
		UpstreamEndpoint: cfg.Upstream.Endpoint,
	}, engine, executor, logger)

	if err := proxy.Connect(ctx); err != nil {
		return fmt.Errorf("connect upstream: %w", err)
	}
	defer func() { _ = proxy.Close() }()

	logger.Info("enact proxy started", "agent_id", cfg.AgentID, "config", config.FileUsed())
	return proxy.Run(ctx)
}

// buildEngine composes the governance engine from the configuration.
// The returned cleanup closes any sinks that hold resources.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*service.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	auditors, auditClosers, err := buildAuditors(cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, auditClosers...)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(service.NewMetrics(prometheus.DefaultRegisterer)),
		service.WithKillSwitch(oversight.NewKillSwitch()),
		service.WithAuditors(auditors...),
		service.WithRedaction(cfg.Audit.Redact),
	}

	if cfg.Validation.RequireJustification {
		jopts := []intent.JustificationOption{
			intent.WithMinLength(cfg.Validation.MinJustificationLength),
		}
		for tool, kws := range cfg.Validation.RequiredKeywords {
			jopts = append(jopts, intent.WithRequiredKeywords(tool, kws...))
		}
		opts = append(opts, service.WithValidators(
			intent.NewPipeline(intent.NewJustification(jopts...)),
		))
	}

	if cfg.RateLimit.Enabled {
		opts = append(opts, service.WithRateLimiter(ratelimit.NewLimiter(ratelimit.Config{
			MaxPerMinute: cfg.RateLimit.MaxPerMinute,
			Burst:        cfg.RateLimit.Burst,
		})))
	}

	if cfg.Quota.Enabled {
		opts = append(opts, service.WithQuota(quota.NewManager(quota.Config{
			MaxActions: cfg.Quota.MaxActions,
			Window:     time.Duration(cfg.Quota.WindowHours) * time.Hour,
		})))
	}

	if cfg.Breaker.Enabled {
		opts = append(opts, service.WithBreaker(reliability.NewBreaker(reliability.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Timeout:          time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
		})))
	}

	if len(cfg.Oversight.HighRiskTools) > 0 || len(cfg.Oversight.HighRiskFunctions) > 0 {
		workflow, err := oversight.NewWorkflow(cfg.Oversight.HighRiskFunctions,
			oversight.WithHighRiskTools(cfg.Oversight.HighRiskTools...))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("approval workflow: %w", err)
		}
		opts = append(opts, service.WithApprovals(workflow))
	}

	if cfg.Oversight.EscalationEnabled {
		opts = append(opts, service.WithEscalation(oversight.NewEscalation(
			oversight.WithThresholds(oversight.Thresholds{
				High:   cfg.Oversight.HighConfidence,
				Medium: cfg.Oversight.MediumConfidence,
				Low:    cfg.Oversight.LowConfidence,
			}),
		)))
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	opts = append(opts, service.WithPolicyResolver(resolver))

	return service.NewEngine(opts...), cleanup, nil
}

// buildResolver wires the registry and the file policy into a per-request
// policy resolver. Registry policies win; the file policy is the fallback.
func buildResolver(cfg *config.Config) (service.PolicyResolver, error) {
	var filePolicy policy.Policy
	if cfg.PolicyFile != "" {
		p, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		filePolicy = p
	} else if cfg.DefaultAllow {
		filePolicy = policy.AllowAll{}
	} else {
		filePolicy = policy.DenyAll{}
	}

	reg := registry.New()
	return func(req governance.Request) (policy.Policy, error) {
		p, err := reg.PolicyFor(req.ToolName, req.AgentID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
		return filePolicy, nil
	}, nil
}

// buildAuditors constructs the configured audit sinks in fan-out order.
func buildAuditors(cfg *config.Config) ([]audit.Auditor, []func(), error) {
	var (
		auditors []audit.Auditor
		closers  []func()
	)

	if cfg.Audit.File != "" {
		sink, err := auditlog.NewFileSink(cfg.Audit.File)
		if err != nil {
			return nil, nil, err
		}
		auditors = append(auditors, sink)
		closers = append(closers, func() { _ = sink.Close() })
	}
	if cfg.Audit.SQLite != "" {
		sink, err := auditlog.NewSQLiteSink(cfg.Audit.SQLite)
		if err != nil {
			return nil, nil, err
		}
		auditors = append(auditors, sink)
		closers = append(closers, func() { _ = sink.Close() })
	}
	if cfg.Audit.HTTPURL != "" {
		auditors = append(auditors, auditlog.NewHTTPSink(auditlog.HTTPSinkConfig{
			URL:     cfg.Audit.HTTPURL,
			Headers: cfg.Audit.HTTPHeaders,
		}))
	}
	if cfg.Audit.Syslog != "" {
		sink := auditlog.NewSyslogSink(auditlog.SyslogSinkConfig{
			Network: cfg.Audit.SyslogNetwork,
			Address: cfg.Audit.Syslog,
		})
		auditors = append(auditors, sink)
		closers = append(closers, func() { _ = sink.Close() })
	}

	return auditors, closers, nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// initTracing installs a stdout span exporter and returns its shutdown.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}
