package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/hidlink/audit"
	"github.com/mbocsi/hidlink/config"
	"github.com/mbocsi/hidlink/discovery"
	"github.com/mbocsi/hidlink/input"
	"github.com/mbocsi/hidlink/proto"
	"github.com/mbocsi/hidlink/server"
	"github.com/mbocsi/hidlink/store"
	"github.com/mbocsi/hidlink/web"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	flags := config.Default()

	cmd := &cobra.Command{
		Use:           "hidlink",
		Short:         "Host agent that turns paired companion devices into mouse, keyboard and media input",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.ApplyEnv(nil); err != nil {
				return err
			}
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	f.StringVar(&flags.Host, "host", flags.Host, "bind address")
	f.IntVarP(&flags.Port, "port", "p", flags.Port, "WebSocket companion port")
	f.IntVar(&flags.TCPPort, "tcp-port", flags.TCPPort, "newline-delimited JSON port (0 disables)")
	f.IntVar(&flags.WebPort, "web-port", flags.WebPort, "browser UI port (0 disables)")
	f.StringVar(&flags.HostId, "host-id", flags.HostId, "device_id used on outbound envelopes")
	f.StringVar(&flags.TrustedRegistryPath, "registry", flags.TrustedRegistryPath, "trusted devices file")
	f.StringVar(&flags.AuditLogPath, "audit-log", flags.AuditLogPath, "audit log file")
	f.IntVar(&flags.RateLimitPerSec, "rate-limit", flags.RateLimitPerSec, "messages per second per device")
	f.IntVar(&flags.NonceWindow, "nonce-window", flags.NonceWindow, "recent nonces remembered per device")
	f.StringVar(&flags.PairingCode, "pairing-code", flags.PairingCode, "fixed six digit pairing code (random when empty)")
	f.IntVar(&flags.MaxClients, "max-clients", flags.MaxClients, "concurrent connections per transport")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	f.BoolVar(&flags.MDNS, "mdns", flags.MDNS, "advertise over mDNS")
	f.BoolVar(&flags.MCP, "mcp", flags.MCP, "serve operator tools over MCP stdio")
	return cmd
}

// applyFlags copies every flag the user set explicitly onto cfg.
func applyFlags(cmd *cobra.Command, cfg, flags *config.Config) {
	set := map[string]func(){
		"host":         func() { cfg.Host = flags.Host },
		"port":         func() { cfg.Port = flags.Port },
		"tcp-port":     func() { cfg.TCPPort = flags.TCPPort },
		"web-port":     func() { cfg.WebPort = flags.WebPort },
		"host-id":      func() { cfg.HostId = flags.HostId },
		"registry":     func() { cfg.TrustedRegistryPath = flags.TrustedRegistryPath },
		"audit-log":    func() { cfg.AuditLogPath = flags.AuditLogPath },
		"rate-limit":   func() { cfg.RateLimitPerSec = flags.RateLimitPerSec },
		"nonce-window": func() { cfg.NonceWindow = flags.NonceWindow },
		"pairing-code": func() { cfg.PairingCode = flags.PairingCode },
		"max-clients":  func() { cfg.MaxClients = flags.MaxClients },
		"log-level":    func() { cfg.LogLevel = flags.LogLevel },
		"mdns":         func() { cfg.MDNS = flags.MDNS },
		"mcp":          func() { cfg.MCP = flags.MCP },
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	level, _ := cfg.SlogLevel()

	// MCP owns stdout when enabled
	var out io.Writer = os.Stdout
	if cfg.MCP {
		out = os.Stderr
	}
	server.SetupLogger(level, out)

	code := cfg.PairingCode
	if code == "" {
		var err error
		if code, err = server.GeneratePairingCode(); err != nil {
			return err
		}
	}

	sink, err := audit.OpenFile(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer sink.Close()

	opts := server.AgentServerOptions{
		Host: server.HostIdentity{
			HostId:          cfg.HostId,
			ProtocolVersion: proto.ProtocolVersion,
			PairingCode:     code,
			CodeTTL:         time.Duration(cfg.PairingCodeTTLMs) * time.Millisecond,
		},
		Store:       store.NewFileStore(cfg.TrustedRegistryPath),
		Executor:    input.NewController(input.NewLogDriver(slog.Default())),
		Audit:       sink,
		RateLimit:   cfg.RateLimitPerSec,
		NonceWindow: cfg.NonceWindow,
		LogLevel:    level,
		LogOutput:   out,
	}
	if cfg.MCP {
		opts.MCPServer = server.NewMCPServer(version)
	}
	if cfg.WebPort > 0 {
		opts.Services = append(opts.Services, web.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.WebPort), nil))
	}
	if cfg.MDNS {
		opts.Services = append(opts.Services, discovery.NewAdvertiser(cfg.HostId, proto.ProtocolVersion, cfg.Port))
	}

	agent, err := server.NewAgentServer(opts)
	if err != nil {
		return err
	}

	ws := server.NewWSTransport(cfg.ListenAddr())
	ws.SetName("companion-ws")
	ws.SetDescription("WebSocket endpoint for companion devices")
	ws.SetMaxClients(cfg.MaxClients)
	agent.RegisterTransport(ws)

	if cfg.TCPPort > 0 {
		tcp := server.NewTCPTransport(fmt.Sprintf("%s:%d", cfg.Host, cfg.TCPPort))
		tcp.SetName("companion-tcp")
		tcp.SetDescription("Newline-delimited JSON endpoint for companion devices")
		tcp.SetMaxClients(cfg.MaxClients)
		agent.RegisterTransport(tcp)
	}

	printer := cmd.OutOrStdout()
	if cfg.MCP {
		printer = cmd.ErrOrStderr()
	}
	fmt.Fprintf(printer, "Pairing code: %s\n", code)
	slog.Info("Pairing code ready", "code", code, "host_id", cfg.HostId)

	return agent.Start()
}
