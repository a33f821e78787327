package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/hidlink/audit"
	"github.com/mbocsi/hidlink/input"
	"github.com/mbocsi/hidlink/proto"
	"github.com/mbocsi/hidlink/security"
	"github.com/mbocsi/hidlink/store"
)

// Service is an auxiliary server run alongside the transports.
type Service interface {
	Start() error
	Shutdown() error
}

type AgentServerOptions struct {
	Host        HostIdentity   // Required: HostId and PairingCode
	Store       store.Store    // Required: backing storage for the trust registry
	Executor    input.Executor // Optional (defaults to a Controller over a LogDriver)
	Audit       audit.Sink     // Optional (defaults to audit.Discard)
	RateLimit   int            // Optional (defaults to security.DefaultRateLimit)
	NonceWindow int            // Optional (defaults to security.DefaultNonceWindow)
	MCPServer   *MCPServer     // Optional MCPServer to run alongside
	Services    []Service      // Optional web UI, discovery and similar
	LogLevel    slog.Level
	LogOutput   io.Writer       // Optional (defaults to stdout)
	Context     context.Context // Optional (defaults to context.Background())
}

type AgentServer struct {
	options     AgentServerOptions
	coordinator *Coordinator
}

func NewAgentServer(opts AgentServerOptions) (*AgentServer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("trust registry store is required")
	}
	if opts.Host.HostId == "" {
		return nil, fmt.Errorf("host id is required")
	}
	if opts.Host.PairingCode == "" {
		return nil, fmt.Errorf("pairing code is required")
	}
	if opts.Host.ProtocolVersion == "" {
		opts.Host.ProtocolVersion = proto.ProtocolVersion
	}
	if opts.Host.CodeTTL == 0 {
		opts.Host.CodeTTL = DefaultCodeTTL
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = security.DefaultRateLimit
	}
	if opts.NonceWindow == 0 {
		opts.NonceWindow = security.DefaultNonceWindow
	}
	if opts.Executor == nil {
		opts.Executor = input.NewController(input.NewLogDriver(slog.Default()))
	}
	if opts.Audit == nil {
		opts.Audit = audit.Discard{}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	trust, err := LoadTrustRegistry(opts.Store)
	if err != nil {
		return nil, err
	}

	validator := security.NewValidator(
		opts.Host.ProtocolVersion,
		security.NewNonceTracker(opts.NonceWindow),
		security.NewRateLimiter(opts.RateLimit),
	)
	coordinator := NewCoordinator(opts.Host, trust, validator, opts.Executor, opts.Audit)
	if opts.MCPServer != nil {
		coordinator.AttachMCP(opts.MCPServer)
	}
	coordinator.Services = opts.Services

	return &AgentServer{
		options:     opts,
		coordinator: coordinator,
	}, nil
}

func (s *AgentServer) RegisterTransport(t Transport) {
	s.coordinator.RegisterTransport(t)
}

func (s *AgentServer) Coordinator() *Coordinator {
	return s.coordinator
}

// SetupLogger installs the process-wide JSON logger.
func SetupLogger(level slog.Level, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// Start runs until the context is cancelled or the process is interrupted.
func (s *AgentServer) Start() error {
	SetupLogger(s.options.LogLevel, s.options.LogOutput)
	ctx, stop := signal.NotifyContext(s.options.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting agent",
		"host_id", s.options.Host.HostId,
		"protocol_version", s.options.Host.ProtocolVersion,
		"trusted_devices", len(s.coordinator.Trust.List()),
	)
	return s.coordinator.Start(ctx)
}
