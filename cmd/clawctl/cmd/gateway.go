// ABOUTME: Gateway lifecycle commands for clawctl
// ABOUTME: provision, start, stop, redeploy, remove, and status for one member

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/clawhuddle/internal/client"
)

type gatewayCall func(c *client.Client, ctx context.Context, orgID, memberID string) (*client.Gateway, error)

func gatewayCommand(use, short, long string, call gatewayCall) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <org-id> <member-id>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			gw, err := call(newClient(), ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			return printGateway(cmd.OutOrStdout(), gw)
		},
	}
}

func init() {
	rootCmd.AddCommand(
		gatewayCommand("provision", "Create and start a member's gateway",
			`Create a gateway container for a member, write its workspace, and wait
for it to report healthy. Fails if the member already has a running gateway.

Examples:
  clawctl provision org-1 member-1`,
			(*client.Client).Provision),
		gatewayCommand("start", "Start a stopped gateway", "", (*client.Client).Start),
		gatewayCommand("stop", "Stop a running gateway", "", (*client.Client).Stop),
		gatewayCommand("redeploy", "Recreate a gateway with fresh configuration",
			`Rebuild the gateway's workspace from current settings and replace its
container. The token, subdomain, and user-added API keys are kept.`,
			(*client.Client).Redeploy),
		gatewayCommand("remove", "Remove a gateway and its container", "", (*client.Client).Remove),
		gatewayCommand("status", "Show a gateway's live status",
			`Show the gateway's status as observed from the container engine. Status
is reconciled with what is actually running before it is reported.`,
			(*client.Client).Status),
	)
}
