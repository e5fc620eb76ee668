package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		closeLog, err := cfg.SetupLogging(os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		p, err := newProvider(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		models, err := p.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROVIDER")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, m.Provider)
		}
		return w.Flush()
	},
}
