package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/bridgette/internal/config"
	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/JonMunkholm/bridgette/internal/staging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const cliSession = "cli"

type submitOptions struct {
	slot    string
	schema  bool
	maxSize string
}

func submitCmd(root *rootOptions) *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit [flags] FILE...",
		Short: "Stage local files into a slot and submit them",
		Long: `Stage local files into a slot and submit them to the backend in one request.

Files that are too large or of a disallowed type are reported and skipped.
The command exits 1 when the submission fails and 2 when the backend
accepted the request but flagged individual files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), cmd.OutOrStdout(), root, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.slot, "slot", staging.SlotBox1.String(), "slot to stage into: box1, box2, schemaBox1, schemaBox2")
	cmd.Flags().BoolVar(&opts.schema, "schema", false, "submit as schema files (box1 becomes schemaBox1)")
	cmd.Flags().StringVar(&opts.maxSize, "max-size", "", "override the slot's size limit, e.g. 100MB")
	return cmd
}

func (o *submitOptions) resolveSlot() (staging.Slot, error) {
	slot, err := staging.ParseSlot(o.slot)
	if err != nil {
		return "", err
	}
	if o.schema && slot.Kind() == staging.KindData {
		if slot.Box() == 2 {
			return staging.SlotSchemaBox2, nil
		}
		return staging.SlotSchemaBox1, nil
	}
	return slot, nil
}

func runSubmit(ctx context.Context, out io.Writer, root *rootOptions, opts *submitOptions, paths []string) error {
	slot, err := opts.resolveSlot()
	if err != nil {
		return err
	}
	var maxSize int64
	if opts.maxSize != "" {
		size, err := config.ParseByteSize(opts.maxSize)
		if err != nil {
			return fmt.Errorf("--max-size: %w", err)
		}
		maxSize = size.Bytes()
	}

	client, err := root.client()
	if err != nil {
		return err
	}
	svc, err := core.NewService(core.Config{
		Registry:      staging.DefaultRegistry(staging.ModeMulti, maxSize),
		Backend:       client,
		SubmitTimeout: root.timeout,
	})
	if err != nil {
		return err
	}

	red := color.New(color.FgHiRed)
	green := color.New(color.FgHiGreen)

	var files []staging.PendingFile
	for _, p := range paths {
		f, err := staging.PendingLocalFile(p)
		if err != nil {
			red.Fprintf(out, "skipped %s: %v\n", p, err)
			continue
		}
		files = append(files, f)
	}

	res, err := svc.AddFiles(cliSession, slot, files...)
	if err != nil {
		return err
	}
	for _, rej := range res.Rejected {
		red.Fprintf(out, "rejected %s\n", core.FormatUserError(rej))
	}
	if len(res.Accepted) == 0 {
		return &ExitError{Status: 1, Err: core.ErrEmptySelection}
	}

	fmt.Fprintf(out, "submitting %d file(s) from %s to %s\n", len(res.Accepted), slot, client.BaseURL())
	result, err := svc.Submit(ctx, cliSession, slot)
	if err != nil {
		red.Fprintln(out, core.FormatUserError(err))
		return &ExitError{Status: 1, Err: fmt.Errorf("submission failed: %w", err)}
	}

	failed := 0
	for _, r := range result.Response.Results {
		if r.Error {
			failed++
			red.Fprintf(out, "  x %s: %s\n", r.Filename, r.ErrorMessage())
			continue
		}
		green.Fprintf(out, "  ok %s\n", r.Filename)
		for _, line := range r.Lines {
			fmt.Fprintf(out, "     %s\n", line)
		}
	}
	fmt.Fprintf(out, "%d file(s) processed in %s\n", len(result.Response.Results), result.Submission.Duration.Round(time.Millisecond))

	if failed > 0 {
		return &ExitError{Status: 2, Err: errors.New(pluralFailed(failed))}
	}
	return nil
}

func pluralFailed(n int) string {
	if n == 1 {
		return "1 file failed processing"
	}
	return fmt.Sprintf("%d files failed processing", n)
}
