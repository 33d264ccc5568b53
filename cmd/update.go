package cmd

import (
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// updateCmd represents the update command
var updateCmd = stageCommand(satchel.StageUpdate, "Copies the app code into an existing bundle and installs its requirements", false)

func init() {
	updateCmd.Flags().BoolP("update-requirements", "r", false, "reinstall the app's requirements")
	updateCmd.Flags().Bool("update-dependencies", false, "reinstall the requirements even if they did not change")
	addModeFlags(updateCmd)
	rootCmd.AddCommand(updateCmd)
}
