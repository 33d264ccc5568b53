package satchel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// stderrTailLines is how much of a failing command's error output ends up in a BuildError
const stderrTailLines = 40

// ToolHandle is a located external tool
type ToolHandle struct {
	Name    string
	Path    string
	Version string
	// Home is the installation directory of tools that are more than a single binary
	Home string
	// Managed is true if satchel installed the tool into its cache
	Managed bool
}

// ToolLocator finds external tools
type ToolLocator interface {
	// Require returns the tool or fails with ToolNotFoundError or ToolVersionError
	Require(ctx context.Context, name string, app *AppConfig) (*ToolHandle, error)
}

// Renderer turns a template into a directory
type Renderer interface {
	// Render renders ref with data into dst. dst must not exist yet.
	Render(ctx context.Context, ref TemplateRef, data map[string]interface{}, dst string) error
}

// InstallResult describes a finished requirement installation
type InstallResult struct {
	Target    string
	Installed []string
}

// RequirementInstaller installs Python requirements into a directory
type RequirementInstaller interface {
	Install(ctx context.Context, requires []string, target string, platform TargetPlatform) (*InstallResult, error)
}

// Confirmer asks the user a yes/no question
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// BuildContext is what a backend gets to work with
type BuildContext struct {
	Stage      Stage
	BasePath   string
	BundlePath string
	Layout     Layout
	HostOS     string
	Options    Options

	Tools    ToolLocator
	Runner   Runner
	Reporter Reporter
}

// Path resolves a path relative to the bundle
func (b *BuildContext) Path(rel ...string) string {
	return filepath.Join(append([]string{b.BundlePath}, rel...)...)
}

// DistPath is the directory packaged artifacts are placed in
func (b *BuildContext) DistPath() string {
	return filepath.Join(b.BasePath, "dist")
}

// Tool locates a tool
func (b *BuildContext) Tool(ctx context.Context, name string, app *AppConfig) (*ToolHandle, error) {
	return b.Tools.Require(ctx, name, app)
}

// Exec runs a command on behalf of an app, streaming its output to the reporter.
// Failing commands produce a BuildError carrying the tail of their error output.
func (b *BuildContext) Exec(ctx context.Context, app *AppConfig, cmd Command) (*Result, error) {
	if cmd.Stdout == nil {
		cmd.Stdout = &reporterStream{R: b.Reporter, App: app}
	}
	if cmd.Stderr == nil {
		cmd.Stderr = &reporterStream{R: b.Reporter, App: app, IsErr: true}
	}
	if cmd.Dir == "" {
		cmd.Dir = b.BundlePath
	}

	log.WithField("app", app.AppName).WithField("command", cmd.String()).Debug("running")
	res, err := b.Runner.Run(ctx, cmd)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return res, err
	}

	var stderr string
	if res != nil {
		stderr = tail(string(res.Stderr), stderrTailLines)
	}
	return res, &BuildError{
		App:     app.AppName,
		Stage:   b.Stage,
		Command: append([]string{cmd.Name}, cmd.Args...),
		Stderr:  stderr,
		Err:     err,
	}
}

// Run is a shorthand for Exec with a command run in dir
func (b *BuildContext) Run(ctx context.Context, app *AppConfig, dir, name string, args ...string) error {
	_, err := b.Exec(ctx, app, Command{Name: name, Args: args, Dir: dir})
	return err
}

func tail(s string, lines int) string {
	s = strings.TrimRight(s, "\n")
	segs := strings.Split(s, "\n")
	if len(segs) <= lines {
		return s
	}
	return strings.Join(segs[len(segs)-lines:], "\n")
}
