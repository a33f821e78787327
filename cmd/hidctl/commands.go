package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mbocsi/hidlink/client"
	"github.com/mbocsi/hidlink/discovery"
)

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Find an agent on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := discovery.Lookup(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\thost_id=%s\tversion=%s\n", agent.Name, agent.URL(), agent.HostId, agent.Version)
			return nil
		},
	}
}

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <code>",
		Short: "Pair with the agent using the code it displays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.Pair(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := client.SaveIdentity(s, c.Identity); err != nil {
				return fmt.Errorf("paired but failed to save identity: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired as %s\n", c.Identity.DeviceId)
			return nil
		},
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "move <dx> <dy>",
		Short:   "Move the pointer by a relative offset",
		Example: "  hidctl move -- -20 15",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseFloats(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return c.MouseMove(ctx, d[0], d[1])
			})
		},
	}
}

func clickCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "click [left|right|middle]",
		Short: "Click a mouse button",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			button := "left"
			if len(args) == 1 {
				button = args[0]
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if action == "" {
					return c.Click(ctx, button)
				}
				return c.MouseClick(ctx, button, action)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "send only down or up instead of a full click")
	return cmd
}

func scrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "scroll <dy> [dx]",
		Short:   "Scroll vertically and optionally horizontally",
		Example: "  hidctl scroll -- -3",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseFloats(args)
			if err != nil {
				return err
			}
			dx := 0.0
			if len(d) == 2 {
				dx = d[1]
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return c.MouseScroll(ctx, dx, d[0])
			})
		},
	}
}

func keyCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "key <key>",
		Short: "Tap a key, or send only its down or up edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if action == "" {
					return c.Tap(ctx, args[0])
				}
				return c.Keypress(ctx, args[0], action)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "down or up instead of a full tap")
	return cmd
}

func mediaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "media <command>",
		Short:     "Send a media key",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"play_pause", "next", "prev", "vol_up", "vol_down", "mute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return c.Media(ctx, args[0])
			})
		},
	}
}
