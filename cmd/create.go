package cmd

import (
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// createCmd represents the create command
var createCmd = stageCommand(satchel.StageCreate, "Creates the bundle scaffold of an app", false)

func init() {
	createCmd.Flags().Bool("clean", false, "replace an existing bundle without asking")
	rootCmd.AddCommand(createCmd)
}
