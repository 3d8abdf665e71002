package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/CamFlow/callgraphs/internal/index"
	"github.com/CamFlow/callgraphs/internal/tui"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	flagWorkers   int
	flagProgress  bool
	flagIndexDump bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Record the call graph of every supported file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			settings.Workers = flagWorkers
		}

		out := cmd.OutOrStdout()
		var dump io.Writer
		if flagIndexDump {
			dump = out
		}

		// The spinner owns the terminal, so diagnostics are held back until it exits.
		if flagProgress && dump == nil && isTerminal(out) {
			var logs bytes.Buffer
			cfg := indexConfig(&logs, nil)
			stats, err := tui.Run(cmd.Context(), "Recording "+root, func(ctx context.Context, onProgress index.ProgressFunc) (*index.Stats, error) {
				cfg.OnProgress = onProgress
				return index.New(cfg).Index(ctx, root)
			})
			_, _ = io.Copy(cmd.ErrOrStderr(), &logs)
			if err == nil && stats != nil && stats.FilesFailed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d files could not be analyzed\n", stats.FilesFailed)
			}
			return err
		}

		idx := index.New(indexConfig(cmd.ErrOrStderr(), dump))
		fmt.Fprintf(cmd.ErrOrStderr(), "Recording %s...\n", root)
		start := time.Now()

		stats, err := idx.Index(cmd.Context(), root)
		elapsed := time.Since(start)

		if stats != nil {
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "\nDone in %s\n", elapsed.Round(time.Millisecond))
			fmt.Fprintf(w, "  Files:     %d total, %d analyzed, %d failed\n",
				stats.FilesTotal, stats.FilesAnalyzed, stats.FilesFailed)
			fmt.Fprintf(w, "  Functions: %d new (%d callers observed)\n", stats.Functions, stats.Callers)
			fmt.Fprintf(w, "  Calls:     %d new, %d callers already recorded\n", stats.Edges, stats.Skipped)
			if stats.PersistFailures > 0 {
				fmt.Fprintf(w, "  Not stored: %d callers\n", stats.PersistFailures)
			}
		}
		return err
	},
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func init() {
	indexCmd.Flags().IntVar(&flagWorkers, "workers", settings.Workers, "parallel store sessions")
	indexCmd.Flags().BoolVar(&flagProgress, "progress", true, "show a progress spinner when stdout is a terminal")
	indexCmd.Flags().BoolVar(&flagIndexDump, "dump", false, "print each caller and its callees")
	rootCmd.AddCommand(indexCmd)
}
