package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/CamFlow/callgraphs/internal/store"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print how many functions and calls the store holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if settings.DB == "" {
			return errors.New("stats needs a store; set --db")
		}
		if _, err := os.Stat(settings.DB); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s, err := store.Open(settings.DB, settings.StoreOptions()...)
		if err != nil {
			return err
		}
		defer s.Close()

		functions, calls, err := s.Counts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "functions: %d\ncalls:     %d\n", functions, calls)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
