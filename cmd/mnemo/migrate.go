package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/mnemo/internal/db/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date and list applied versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := sqlite.NewSchemaManager(store.DB()).AppliedVersions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s: schema versions %v\n", cfg.DBPath, versions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
