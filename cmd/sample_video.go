package cmd

import (
	"fmt"

	"github.com/camden-git/attendancebackend/media"
	"github.com/spf13/cobra"
)

var sampleVideoCmd = &cobra.Command{
	Use:   "sample-video <file>",
	Short: "Show which frames of a clip would be analyzed",
	Long: `Open a video with the same decoder the server uses and print its frame
count, frame rate and the frame indices the attendance pipeline samples.`,
	Args: cobra.ExactArgs(1),
	RunE: runSampleVideo,
}

func init() {
	rootCmd.AddCommand(sampleVideoCmd)

	sampleVideoCmd.Flags().Int("frames", 0, "Frames to sample (defaults to FRAMES_PER_VIDEO)")
}

func runSampleVideo(cmd *cobra.Command, args []string) error {
	k := mustGetInt(cmd, "frames")
	if k <= 0 {
		cfg, _, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		k = cfg.FramesPerVideo
	}

	src, err := media.OpenVideoFile(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	fmt.Printf("Frames: %d\n", src.FrameCount())
	fmt.Printf("FPS:    %.2f\n", src.FPS())

	indices, err := media.SampleIndices(src.FrameCount(), src.FPS(), k)
	if err != nil {
		return err
	}
	for i, idx := range indices {
		fmt.Printf("  #%d  frame %d  at %.2fs\n", i+1, idx, float64(idx)/src.FPS())
	}
	return nil
}
