// ABOUTME: Output helpers shared by clawctl commands
// ABOUTME: Renders results as aligned tables or indented JSON

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/clawhuddle/internal/client"
)

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func statusText(s *string) string {
	if s == nil {
		return "-"
	}
	switch *s {
	case "running":
		return color.GreenString(*s)
	case "deploying":
		return color.YellowString(*s)
	case "stopped":
		return color.RedString(*s)
	default:
		return *s
	}
}

func printGateway(w io.Writer, gw *client.Gateway) error {
	if outputFormat == "json" {
		return writeJSON(w, gw)
	}

	port := "-"
	if gw.Port != nil {
		port = strconv.Itoa(*gw.Port)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tUSER\tSTATUS\tPORT\tSUBDOMAIN")
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", gw.MemberID, gw.UserID, statusText(gw.Status), port, orDash(gw.Subdomain))
	return tw.Flush()
}
