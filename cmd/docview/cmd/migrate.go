package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/docview/internal/config"
	"github.com/bigkaa/docview/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции БД и выйти",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("загрузка конфигурации: %w", err)
		}
		logger := config.SetupLogger(cfg)
		return database.Migrate(cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
