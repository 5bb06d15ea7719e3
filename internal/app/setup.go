package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the document store schema and attachment directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		comps, err := openComponents(cfg, log)
		if err != nil {
			return err
		}
		defer comps.Close()

		if err := comps.db.Migrate(cmd.Context(), cfg.Store.Prefix); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "store ready at %s (prefix %q)\n", cfg.Store.Path, cfg.Store.Prefix)
		fmt.Fprintf(cmd.OutOrStdout(), "attachments in %s\n", cfg.Store.AttachmentsDir)
		return nil
	},
}
