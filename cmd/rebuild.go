package cmd

import (
	"context"
	"fmt"

	"github.com/camden-git/attendancebackend/services"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-gallery",
	Short: "Recompute every gallery average from the retained samples",
	Long: `Recompute the gallery average of every student from the raw face samples
kept in the database. Students without samples lose their gallery entry.
Use this after importing samples or to repair drifted averages.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close databases", zap.Error(err))
		}
	}()

	// nothing is deleted from disk and no client is listening
	gallery := services.NewGalleryService(st.store, services.NewKeyedMutex(), nil, nil, logger)

	noProgress, _ := cmd.Flags().GetBool("no-progress")
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if noProgress {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Rebuilding gallery"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("students"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(done)
	}

	rebuilt, err := gallery.RebuildAll(context.Background(), progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("rebuild stopped after %d students: %w", rebuilt, err)
	}
	fmt.Printf("Rebuilt %d gallery entries\n", rebuilt)
	return nil
}
