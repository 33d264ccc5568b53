package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// devCmd represents the dev command
var devCmd = &cobra.Command{
	Use:   "dev [-- app args...]",
	Short: "Runs an app from its sources without building a bundle",
	Args:  targetArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, rest := splitArgs(cmd, args)
		if len(target) > 0 {
			return &satchel.ConfigError{Msg: fmt.Sprintf("dev does not take a platform. Did you mean to pass %s to the app after --?", strings.Join(target, " "))}
		}
		opts, err := getOptions(cmd)
		if err != nil {
			return err
		}
		opts.Args = rest

		env, err := getEnvironment()
		if err != nil {
			return err
		}
		app, err := singleApp(env.Project, hostPlatform(runtime.GOOS), "")
		if err != nil {
			return err
		}
		return env.orchestrator().Dev(cmd.Context(), app, opts)
	},
}

// singleApp selects exactly one app of the project
func singleApp(prj *satchel.Project, platform, format string) (*satchel.AppConfig, error) {
	apps, err := selectApps(prj, platform, format, appName)
	if err != nil {
		return nil, err
	}
	if len(apps) != 1 {
		var names []string
		for _, a := range apps {
			names = append(names, a.AppName)
		}
		return nil, &satchel.ConfigError{Msg: fmt.Sprintf("project contains the apps %s. Choose one using --app.", strings.Join(names, ", "))}
	}
	return apps[0], nil
}

func init() {
	devCmd.Flags().BoolP("update-requirements", "r", false, "reinstall the app's requirements")
	devCmd.Flags().Bool("test", false, "run the test suite instead of the app")
	devCmd.Flags().Bool("watch", false, "restart the app whenever a source file changes")
	addAppFlag(devCmd)
	rootCmd.AddCommand(devCmd)
}
