// ABOUTME: Channel token commands for clawctl
// ABOUTME: Sets or clears a member's chat channel bot token

package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clawhuddle/internal/client"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage a member's chat channel tokens",
}

var channelSetCmd = &cobra.Command{
	Use:   "set <org-id> <member-id> <channel> <token>",
	Short: "Store a bot token for telegram, discord, or slack",
	Long: `Store a bot token for a chat channel. If the member's gateway is live a
redeploy is queued so it picks the token up.

Examples:
  clawctl channel set org-1 member-1 telegram 123456:ABC`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := newClient().SetChannel(ctx, args[0], args[1], args[2], args[3])
		if err != nil {
			return fmt.Errorf("set channel failed: %w", err)
		}
		return printChannel(cmd.OutOrStdout(), res)
	},
}

var channelDeleteCmd = &cobra.Command{
	Use:     "delete <org-id> <member-id> <channel>",
	Aliases: []string{"rm"},
	Short:   "Remove a channel's bot token",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := newClient().DeleteChannel(ctx, args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("delete channel failed: %w", err)
		}
		return printChannel(cmd.OutOrStdout(), res)
	},
}

func init() {
	channelCmd.AddCommand(channelSetCmd, channelDeleteCmd)
	rootCmd.AddCommand(channelCmd)
}

func printChannel(w io.Writer, res *client.ChannelResult) error {
	if outputFormat == "json" {
		return writeJSON(w, res)
	}

	state := "cleared"
	if res.Configured {
		state = "configured"
	}
	fmt.Fprintf(w, "%s %s\n", res.Channel, state)
	if res.RedeployQueued {
		fmt.Fprintln(w, color.YellowString("redeploy queued"))
	}
	return nil
}
