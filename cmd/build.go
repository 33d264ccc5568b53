package cmd

import (
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// buildCmd represents the build command
var buildCmd = stageCommand(satchel.StageBuild, "Builds an app, creating and updating the bundle as needed", false)

func init() {
	addUpdateFlags(buildCmd)
	addModeFlags(buildCmd)
	rootCmd.AddCommand(buildCmd)
}
