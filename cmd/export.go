package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/export"
	"github.com/spf13/cobra"
)

var (
	format       string
	outputPath   string
	exportServer string
	exportTokens bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions to a file or stdout",
	Long: `Export recorded sessions in one of several formats (jsonl, md, yaml, json, chat).

Session tokens are redacted unless --tokens is given. Without --output the
export is written to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Create exporter first so a bad format fails before touching the store
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		store, err := openStoreForRead()
		if err != nil {
			return err
		}
		defer store.Close()

		var sessions []*internal.Session
		var buf bytes.Buffer
		render := func(ctx context.Context) error {
			all, err := store.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			sessions = filterByServer(all, exportServer)
			if !exportTokens {
				sessions = redactTokens(sessions)
			}
			return exporter.Export(sessions, &buf)
		}

		toStdout := outputPath == "" || outputPath == "-"
		if toStdout {
			err = render(cmd.Context())
		} else {
			err = internal.ShowProgress(cmd.Context(), "Exporting sessions", render)
		}
		if err != nil {
			return err
		}

		if toStdout {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}

		if filepath.Ext(outputPath) == "" {
			outputPath += "." + exporter.Extension()
		}
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(outputPath, buf.Bytes(), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", outputPath, err)
		}

		internal.PrintSuccess(fmt.Sprintf("Export complete: %d session(s) exported to %s", len(sessions), outputPath))
		return nil
	},
}

func redactTokens(sessions []*internal.Session) []*internal.Session {
	out := make([]*internal.Session, len(sessions))
	for i, s := range sessions {
		c := *s
		c.Token = internal.RedactToken(s.Token)
		out[i] = &c
	}
	return out
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Export format (jsonl, md, yaml, json, chat)")
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportServer, "server", "", "Only export sessions of this server id")
	exportCmd.Flags().BoolVar(&exportTokens, "tokens", false, "Include full session tokens")
}
