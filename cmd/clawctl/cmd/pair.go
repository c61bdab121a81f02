// ABOUTME: Pairing commands for clawctl
// ABOUTME: Approves or lists chat pairing requests inside a running gateway

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Approve or list chat pairing requests",
}

var pairApproveCmd = &cobra.Command{
	Use:   "approve <org-id> <member-id> <channel> <code>",
	Short: "Approve a pairing code",
	Long: `Approve a pairing code that a chat user received from the member's bot.
The gateway must be running.

Examples:
  clawctl pair approve org-1 member-1 telegram XYZ123`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		out, err := newClient().ApprovePairing(ctx, args[0], args[1], args[2], args[3])
		if err != nil {
			return fmt.Errorf("pairing approve failed: %w", err)
		}
		return printOutput(cmd.OutOrStdout(), out)
	},
}

var pairListCmd = &cobra.Command{
	Use:     "list <org-id> <member-id> <channel>",
	Aliases: []string{"ls"},
	Short:   "List pending pairing requests",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		out, err := newClient().ListPairingRequests(ctx, args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("pairing list failed: %w", err)
		}
		return printOutput(cmd.OutOrStdout(), out)
	},
}

func init() {
	pairCmd.AddCommand(pairApproveCmd, pairListCmd)
	rootCmd.AddCommand(pairCmd)
}

func printOutput(w io.Writer, out string) error {
	if outputFormat == "json" {
		return writeJSON(w, map[string]string{"output": out})
	}
	_, err := fmt.Fprintln(w, out)
	return err
}
