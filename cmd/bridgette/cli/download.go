package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func downloadCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download artifacts generated by the backend",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "", "write to PATH (excel default: ./NAME, json default: stdout)")

	cmd.AddCommand(&cobra.Command{
		Use:   "excel NAME",
		Short: "Download a generated Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			name := args[0]
			path := output
			if path == "" {
				path = filepath.Base(name)
			}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			n, err := client.DownloadExcel(cmd.Context(), name, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(path)
				return fmt.Errorf("download %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "json NAME",
		Short: "Fetch a generated JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			raw, err := client.JSONFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("download %s: %w", args[0], err)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				return fmt.Errorf("backend returned invalid JSON for %s: %w", args[0], err)
			}
			pretty.WriteByte('\n')

			if output == "" {
				_, err := cmd.OutOrStdout().Write(pretty.Bytes())
				return err
			}
			if err := os.WriteFile(output, pretty.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	})

	return cmd
}
