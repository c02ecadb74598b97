package cli

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func processCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Control backend processing runs",
	}

	action := func(use, short string, call func(context.Context, *backend.Client, []string) (*backend.ActionResponse, error), args cobra.PositionalArgs) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := root.client()
				if err != nil {
					return err
				}
				resp, err := call(cmd.Context(), client, args)
				if err != nil {
					color.New(color.FgHiRed).Fprintln(cmd.OutOrStdout(), core.FormatUserError(err))
					return &ExitError{Status: 1, Err: err}
				}
				printAction(cmd, resp)
				return nil
			},
		}
	}

	cmd.AddCommand(
		action("trigger", "Start the main processing run",
			func(ctx context.Context, c *backend.Client, _ []string) (*backend.ActionResponse, error) {
				return c.TriggerMainProcessing(ctx)
			}, cobra.NoArgs),
		action("cleanup", "Remove intermediate JSON files",
			func(ctx context.Context, c *backend.Client, _ []string) (*backend.ActionResponse, error) {
				return c.CleanupJSONFiles(ctx)
			}, cobra.NoArgs),
		action("merge FILE...", "Merge processed artifacts",
			func(ctx context.Context, c *backend.Client, files []string) (*backend.ActionResponse, error) {
				return c.StartMerging(ctx, files)
			}, cobra.MinimumNArgs(1)),
	)
	return cmd
}

func printAction(cmd *cobra.Command, resp *backend.ActionResponse) {
	out := cmd.OutOrStdout()
	msg := resp.Message
	if msg == "" {
		msg = "done"
	}
	color.New(color.FgHiGreen).Fprintln(out, msg)
	for _, f := range resp.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
}
