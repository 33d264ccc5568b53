package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gookit/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/platforms"
	"github.com/gitpod-io/satchel/pkg/satchel"
)

const (
	// EnvvarProjectRoot names the environment variable we check for the project root path
	EnvvarProjectRoot = "SATCHEL_PROJECT_ROOT"

	// EnvvarNoInput disables all interactive prompts when set to "true"
	EnvvarNoInput = "SATCHEL_NO_INPUT"
)

// Exit codes of the satchel command
const (
	ExitOK          = 0
	ExitBuild       = 1
	ExitConfig      = 2
	ExitEnvironment = 3
	ExitCancelled   = 130
)

var (
	projectRoot string
	verbose     bool
	noInput     bool
	appName     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Packages Python applications as native apps",
	Long: color.Render(`<light_yellow>satchel turns a Python project into native applications</> for macOS, Windows, Linux, iOS, Android and the web.
Every command works on a platform and an output format:
  Platform: the operating system the app is built for, e.g. macOS, linux or android. Defaults to the host platform.
  Format:   the kind of bundle produced for a platform, e.g. app or xcode on macOS. Every platform has a default format.
  App:      a project can contain several apps. Commands act on all of them unless --app selects one.

An app moves through the stages create, update, build, run, package and publish. Every stage runs the stages
it depends on if they have not run yet.

<white>Configuration</>
satchel is configured through the [tool.satchel] section of pyproject.toml and environment variables. The following
environment variables have an effect on satchel:
  <light_blue>SATCHEL_PROJECT_ROOT</>  Contains the path where to look for pyproject.toml. Can also be set using --project.
     <light_blue>SATCHEL_CACHE_DIR</>  Location of the tool and template cache. The directory does not have to exist yet.
        <light_blue>SATCHEL_PYTHON</>  Python interpreter used to install requirements and to run apps in dev mode.
      <light_blue>SATCHEL_NO_INPUT</>  Disables interactive prompts. Questions are answered with no.
`),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv(EnvvarNoInput) == "true" {
			noInput = true
		}
		setupLogging(cmd.Name(), verbose)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	finishLogging(err)
	if err != nil {
		printError(err)
	}
	os.Exit(exitCode(err))
}

func init() {
	root := os.Getenv(EnvvarProjectRoot)
	if root == "" {
		root = "."
	}

	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project", "p", root, "Project root or a directory below it")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enables verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noInput, "no-input", false, "never ask questions, answer them with no instead")
}

// exitCode maps an error to the process exit code
func exitCode(err error) int {
	switch satchel.Classify(err) {
	case satchel.ClassNone:
		return ExitOK
	case satchel.ClassConfig:
		return ExitConfig
	case satchel.ClassEnvironment:
		return ExitEnvironment
	case satchel.ClassCancelled:
		return ExitCancelled
	default:
		return ExitBuild
	}
}

func printError(err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, color.Yellow.Render("interrupted"))
		return
	}
	fmt.Fprintln(os.Stderr, color.Red.Render("error: ")+err.Error())
}

// hostPlatform names the platform satchel builds for when none is given
func hostPlatform(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	default:
		return goos
	}
}

func getRegistry() (*satchel.Registry, error) {
	reg := satchel.NewRegistry()
	err := platforms.Register(reg)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func getProject(reg *satchel.Registry) (*satchel.Project, error) {
	prj, err := satchel.FindProject(projectRoot, reg)
	if err != nil {
		return nil, err
	}
	setLogProject(prj.Origin)
	return prj, nil
}

// getTarget interprets the [platform] [format] arguments
func getTarget(args []string) (platform, format string) {
	platform = hostPlatform(runtime.GOOS)
	if len(args) > 0 {
		platform = args[0]
	}
	if len(args) > 1 {
		format = args[1]
	}
	return
}

// selectApps resolves the project for a target and picks the apps a command acts on
func selectApps(prj *satchel.Project, platform, format, name string) ([]*satchel.AppConfig, error) {
	apps, err := prj.Resolve(platform, format)
	if err != nil {
		return nil, err
	}
	if name != "" {
		app, ok := apps[name]
		if !ok {
			return nil, &satchel.ConfigError{Msg: fmt.Sprintf("project has no app named %q", name)}
		}
		return []*satchel.AppConfig{app}, nil
	}

	res := make([]*satchel.AppConfig, 0, len(apps))
	for _, n := range prj.AppNames() {
		if app, ok := apps[n]; ok {
			res = append(res, app)
		}
	}
	log.WithField("apps", prj.AppNames()).Debug("selected apps")
	return res, nil
}

func addAppFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&appName, "app", "a", "", "the app to act on if the project contains several")
}
