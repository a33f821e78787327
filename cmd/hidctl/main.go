package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/hidlink/client"
	"github.com/mbocsi/hidlink/discovery"
	"github.com/mbocsi/hidlink/store"
)

var (
	addr         string
	identityPath string
	deviceName   string
	useTCP       bool
	timeout      time.Duration
	verbose      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hidlink-identity.json"
	}
	return filepath.Join(dir, "hidlink", "identity.json")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hidctl",
		Short:         "Companion CLI for a hidlink host agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&addr, "addr", "a", "", "agent address (ws://host:port/ or host:port); discovered over mDNS when empty")
	pf.StringVar(&identityPath, "identity", defaultIdentityPath(), "identity file holding device id and key pair")
	pf.StringVar(&deviceName, "name", "hidctl", "device name offered when pairing")
	pf.BoolVar(&useTCP, "tcp", false, "use the newline-delimited JSON transport")
	pf.DurationVar(&timeout, "timeout", client.DefaultTimeout, "reply and discovery timeout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		discoverCmd(),
		pairCmd(),
		moveCmd(),
		clickCmd(),
		scrollCmd(),
		keyCmd(),
		mediaCmd(),
	)
	return root
}

// connect resolves the agent address, loads the identity and dials.
func connect(ctx context.Context) (*client.Client, store.Store, error) {
	target := addr
	if target == "" {
		if useTCP {
			return nil, nil, fmt.Errorf("--tcp needs an explicit --addr")
		}
		agent, err := discovery.Lookup(ctx, timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("no --addr given and discovery failed: %w", err)
		}
		target = agent.URL()
	}

	s := store.NewFileStore(identityPath)
	id, err := client.LoadIdentity(s, deviceName)
	if err != nil {
		return nil, nil, err
	}

	var t client.Transport = client.NewWebSocketTransport()
	if useTCP {
		t = client.NewTCPTransport()
	}
	c := client.NewClient(id, t)
	c.Timeout = timeout
	if err := c.Connect(ctx, target); err != nil {
		return nil, nil, err
	}
	return c, s, nil
}

// withClient runs fn against a freshly connected client.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	c, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}
