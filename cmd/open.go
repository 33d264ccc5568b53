package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// openCmd represents the open command
var openCmd = &cobra.Command{
	Use:   "open [platform] [format]",
	Short: "Opens the bundle of an app, creating it if needed",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := getEnvironment()
		if err != nil {
			return err
		}
		platform, format := getTarget(args)
		apps, err := selectApps(env.Project, platform, format, appName)
		if err != nil {
			return err
		}

		o := env.orchestrator()
		for _, app := range apps {
			err = o.Open(cmd.Context(), app, platform, format, satchel.Options{})
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	addAppFlag(openCmd)
	rootCmd.AddCommand(openCmd)
}
