package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/prettyprint"
	"github.com/gitpod-io/satchel/pkg/satchel"
)

// describeCmd represents the describe command
var describeCmd = &cobra.Command{
	Use:   "describe [platform] [format]",
	Short: "Describes the configuration of the project's apps as resolved for a platform and format",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := getWriterFromFlags(cmd)
		if err != nil {
			return err
		}
		if w.Format == prettyprint.TemplateFormat && w.FormatString == "" {
			w.FormatString = `{{ range . -}}
App:{{"\t"}}{{ .AppName }}
Formal Name:{{"\t"}}{{ .FormalName }}
Bundle ID:{{"\t"}}{{ .BundleID }}
Version:{{"\t"}}{{ .Version }}
Target:{{"\t"}}{{ .Platform }}/{{ .Format }}
Bundle:{{"\t"}}{{ .BundlePath }}
State:{{"\t"}}{{ .State }}
{{ if .ScaffoldFingerprint }}Scaffold:{{"\t"}}{{ .ScaffoldFingerprint }}
{{ end -}}
Sources:{{"\t"}}{{ join ", " .Sources }}
{{ if .Requires }}Requires:{{"\t"}}{{ join ", " .Requires }}
{{ end }}
{{ end -}}`
		}

		env, err := getEnvironment()
		if err != nil {
			return err
		}
		platform, format := getTarget(args)
		if format == "" {
			format = env.Registry.DefaultFormat(platform)
		}
		apps, err := selectApps(env.Project, platform, format, appName)
		if err != nil {
			return err
		}

		o := env.orchestrator()
		res := make([]appDescription, 0, len(apps))
		for _, app := range apps {
			res = append(res, newAppDescription(o, app, platform, format))
		}
		return w.Write(res)
	},
}

type appDescription struct {
	satchel.AppConfig `yaml:",inline"`

	BundleID   string `yaml:"bundleID" json:"bundleID"`
	BundlePath string `yaml:"bundlePath" json:"bundlePath"`
	State      string `yaml:"state" json:"state"`

	// ScaffoldFingerprint identifies the template output the bundle was created from
	ScaffoldFingerprint string `yaml:"scaffoldFingerprint,omitempty" json:"scaffoldFingerprint,omitempty"`
}

func newAppDescription(o *satchel.Orchestrator, app *satchel.AppConfig, platform, format string) appDescription {
	res := appDescription{
		AppConfig:  *app,
		BundleID:   app.BundleID(),
		BundlePath: o.BundlePath(app, platform, format),
		State:      "unknown",
	}
	st, err := o.State(app, platform, format)
	if err != nil {
		log.WithError(err).WithField("app", app.AppName).Debug("cannot determine build state")
		return res
	}
	res.State = st.Stage.String()
	res.ScaffoldFingerprint = st.ScaffoldFingerprint
	return res
}

func addFormatFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", string(prettyprint.TemplateFormat), "the output format (template, json or yaml)")
	cmd.Flags().String("format-string", "", "the template to use when --format=template")
}

func getWriterFromFlags(cmd *cobra.Command) (*prettyprint.Writer, error) {
	f, _ := cmd.Flags().GetString("format")
	format, err := prettyprint.ParseFormat(f)
	if err != nil {
		return nil, &satchel.ConfigError{Msg: err.Error()}
	}
	formatString, _ := cmd.Flags().GetString("format-string")
	return &prettyprint.Writer{Out: os.Stdout, Format: format, FormatString: formatString}, nil
}

func init() {
	addAppFlag(describeCmd)
	addFormatFlags(describeCmd)
	rootCmd.AddCommand(describeCmd)
}
