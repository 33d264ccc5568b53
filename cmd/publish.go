package cmd

import (
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// publishCmd represents the publish command
var publishCmd = stageCommand(satchel.StagePublish, "Publishes a packaged app to a publication channel", false)

func init() {
	publishCmd.Flags().StringP("channel", "c", "", "the channel to publish to. Defaults to the app's publication_channel.")
	rootCmd.AddCommand(publishCmd)
}
