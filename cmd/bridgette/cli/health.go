package cli

import (
	"fmt"

	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func healthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			hs, err := client.Health(cmd.Context())
			if err != nil {
				color.New(color.FgHiRed).Fprintf(out, "%s is unhealthy: %s\n", client.BaseURL(), core.FormatUserError(err))
				return &ExitError{Status: 1, Err: err}
			}

			status := hs.Status
			if status == "" {
				status = "ok"
			}
			color.New(color.FgHiGreen).Fprintf(out, "%s is %s", client.BaseURL(), status)
			if hs.Message != "" {
				fmt.Fprintf(out, ": %s", hs.Message)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
