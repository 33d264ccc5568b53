package cmd

import (
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// packageCmd represents the package command
var packageCmd = stageCommand(satchel.StagePackage, "Packages an app into a distributable artifact", false)

func init() {
	packageCmd.Flags().StringP("identity", "i", "", "the code signing identity to sign the artifact with")
	packageCmd.Flags().Bool("adhoc-sign", false, "sign the artifact ad-hoc. Ad-hoc signed apps only run on this machine.")
	packageCmd.Flags().Bool("no-sign", false, "do not sign the artifact")
	rootCmd.AddCommand(packageCmd)
}
