package cmd

import (
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// runCmd represents the run command
var runCmd = stageCommand(satchel.StageRun, "Runs a built app. Arguments after -- are passed to the app.", true)

func init() {
	addUpdateFlags(runCmd)
	addModeFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
