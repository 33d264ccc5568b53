package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// stageCommand produces the command of a lifecycle stage
func stageCommand(stage satchel.Stage, short string, passthrough bool) *cobra.Command {
	use := string(stage) + " [platform] [format]"
	args := cobra.MaximumNArgs(2)
	if passthrough {
		use += " [-- app args...]"
		args = targetArgs
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, rest := splitArgs(cmd, args)
			opts, err := getOptions(cmd)
			if err != nil {
				return err
			}
			opts.Args = rest
			return runStage(cmd, stage, target, opts)
		},
	}
	addAppFlag(cmd)
	return cmd
}

// targetArgs allows up to two positional arguments before "--"
func targetArgs(cmd *cobra.Command, args []string) error {
	target, _ := splitArgs(cmd, args)
	if len(target) > 2 {
		return fmt.Errorf("accepts at most 2 arg(s) before --, received %d", len(target))
	}
	return nil
}

// splitArgs separates the target arguments from those following "--"
func splitArgs(cmd *cobra.Command, args []string) (target, rest []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}

func addUpdateFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("update", "u", false, "update the app code before running the stage")
	cmd.Flags().Bool("no-update", false, "never update the app code implicitly")
	cmd.Flags().BoolP("update-requirements", "r", false, "reinstall the app's requirements")
	cmd.Flags().Bool("update-dependencies", false, "reinstall the requirements even if they did not change")
}

func addModeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("test", false, "include the test suite and run it instead of the app")
	cmd.Flags().String("debug", "", fmt.Sprintf("run the app under a debugger (one of %s)", strings.Join(debuggerNames(), ", ")))
}

func debuggerNames() []string {
	res := make([]string, 0, len(satchel.Debuggers))
	for n := range satchel.Debuggers {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// getOptions reads the stage options from whichever flags the command defines
func getOptions(cmd *cobra.Command) (satchel.Options, error) {
	var (
		opts  satchel.Options
		flags = cmd.Flags()
	)
	boolFlags := map[string]*bool{
		"clean":               &opts.Clean,
		"update":              &opts.Update,
		"no-update":           &opts.NoUpdate,
		"update-requirements": &opts.UpdateRequirements,
		"update-dependencies": &opts.UpdateDependencies,
		"test":                &opts.TestMode,
		"adhoc-sign":          &opts.AdHocSign,
		"no-sign":             &opts.NoSign,
		"watch":               &opts.Watch,
	}
	for name, dst := range boolFlags {
		if flags.Lookup(name) == nil {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return opts, err
		}
		*dst = v
	}

	stringFlags := map[string]*string{
		"debug":    &opts.Debugger,
		"identity": &opts.Identity,
		"channel":  &opts.Channel,
	}
	for name, dst := range stringFlags {
		if flags.Lookup(name) == nil {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return opts, err
		}
		*dst = v
	}

	if opts.Update && opts.NoUpdate {
		return opts, &satchel.ConfigError{Msg: "--update and --no-update are exclusive"}
	}
	if opts.NoSign && (opts.AdHocSign || opts.Identity != "") {
		return opts, &satchel.ConfigError{Msg: "--no-sign cannot be combined with --adhoc-sign or --identity"}
	}
	if opts.AdHocSign && opts.Identity != "" {
		return opts, &satchel.ConfigError{Msg: "--adhoc-sign and --identity are exclusive"}
	}
	return opts, nil
}

func runStage(cmd *cobra.Command, stage satchel.Stage, args []string, opts satchel.Options) error {
	env, err := getEnvironment()
	if err != nil {
		return err
	}

	platform, format := getTarget(args)
	apps, err := selectApps(env.Project, platform, format, appName)
	if err != nil {
		return err
	}

	res, err := env.orchestrator().RunAll(cmd.Context(), stage, apps, platform, format, opts)
	printResults(res)
	return err
}

func printResults(res []*satchel.StageResult) {
	for _, r := range res {
		if r.State == satchel.StateFailed {
			continue
		}
		line := fmt.Sprintf("%s %s (%s/%s) is %s", color.Green.Render("✓"), r.App, r.Platform, r.Format, r.State)
		if r.Artifact != nil {
			line += fmt.Sprintf(": %s", r.Artifact.Path)
		}
		fmt.Fprintln(os.Stdout, line)
	}
}
