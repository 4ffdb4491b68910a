package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schemas",
	Long: `Run the gorm auto-migration for students, gallery, samples, queues and
users, and create the attendance ledger table if it is missing.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if err := st.Close(); err != nil {
		logger.Warn("failed to close databases", zap.Error(err))
	}
	fmt.Printf("Migrated %s and %s\n", cfg.DatabasePath, cfg.LedgerDatabasePath)
	return nil
}
