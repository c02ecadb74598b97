// Package cli implements the bridgette command line client for the
// processing backend.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// ExitError carries a process exit status. Status 2 means the command ran
// but the backend reported failures.
type ExitError struct {
	Status int
	Err    error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

type rootOptions struct {
	backendURL string
	timeout    time.Duration
	logLevel   string
}

func RootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "bridgette",
		Short:         "Submit files to the processing backend",
		Long:          "Stage local CSV, Excel and schema files, submit them to the processing backend and fetch the generated artifacts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine; values already in the environment win.
			_ = godotenv.Load()
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, "text"))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.backendURL, "backend", "", "backend base URL (default $BACKEND_URL or http://localhost:5000)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", backend.DefaultTimeout, "timeout for each backend request")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(
		submitCmd(opts),
		healthCmd(opts),
		downloadCmd(opts),
		processCmd(opts),
	)
	return cmd
}

func InitAndExecute() {
	cmd := RootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err.Error())

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Status)
		}
		os.Exit(1)
	}
}

// client builds a backend client from the flags and environment.
func (o *rootOptions) client() (*backend.Client, error) {
	base := o.backendURL
	if base == "" {
		base = os.Getenv("BACKEND_URL")
	}
	if base == "" {
		resolved, err := backend.ResolveBaseURL("http://localhost", backend.DefaultLocalPort)
		if err != nil {
			return nil, err
		}
		base = resolved
	}

	c, err := backend.New(backend.Config{BaseURL: base, Timeout: o.timeout, UserAgent: "bridgette-cli"})
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	return c, nil
}
