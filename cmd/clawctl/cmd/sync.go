// ABOUTME: sync-credentials command for clawctl
// ABOUTME: Pushes an organization's provider credentials to its live gateways

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync-credentials <org-id>",
	Short: "Push org credentials to running gateways",
	Long: `Rewrite the credential files of every running or deploying gateway in the
organization. Keys that members added themselves are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		n, err := newClient().SyncCredentials(ctx, args[0])
		if err != nil {
			return fmt.Errorf("credential sync failed: %w", err)
		}
		if outputFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), map[string]int{"updated": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %d gateway(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
