package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CamFlow/callgraphs/internal/analyzer"
	"github.com/CamFlow/callgraphs/internal/index"

	"github.com/spf13/cobra"
)

var flagRecordDump bool

var recordCmd = &cobra.Command{
	Use:   "record <file>...",
	Short: "Record the call graph of translation units",
	Long: `Record analyzes each file as one translation unit and stores its call
graph in a session of its own. Storage failures are logged and do not change
the exit status, so record can run as a step of every compile job.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dump io.Writer
		if flagRecordDump {
			dump = cmd.OutOrStdout()
		}
		idx := index.New(indexConfig(cmd.ErrOrStderr(), dump))

		for _, path := range args {
			if !idx.Supports(path) {
				return fmt.Errorf("%s: unsupported file type", path)
			}
		}
		for _, arg := range args {
			// ./a.c and a.c name the same unit.
			path := filepath.Clean(arg)
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}

			res, err := idx.RecordUnit(cmd.Context(), analyzer.Unit{Path: path, Abs: abs, Src: src})
			if err != nil {
				if cmd.Context().Err() != nil {
					return err
				}
				// Already reported by the sink.
				continue
			}
			slog.Debug("recorded unit",
				"unit", path,
				"callers", res.Callers,
				"stored", len(res.Outcomes),
				"failures", res.PersistFailures,
			)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().BoolVar(&flagRecordDump, "dump", false, "print each caller and its callees")
	rootCmd.AddCommand(recordCmd)
}
