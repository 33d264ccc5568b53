package cmd

import (
	"path/filepath"

	"github.com/gitpod-io/satchel/pkg/satchel"
	"github.com/gitpod-io/satchel/pkg/satchel/publish"
	"github.com/gitpod-io/satchel/pkg/satchel/requirements"
	"github.com/gitpod-io/satchel/pkg/satchel/tools"
	"github.com/gitpod-io/satchel/pkg/templates"
)

// environment bundles the collaborators every stage command needs
type environment struct {
	Registry *satchel.Registry
	Project  *satchel.Project
	Tools    *tools.Registry
	Runner   satchel.Runner
	Renderer *satchel.TemplateRenderer
}

func getEnvironment() (*environment, error) {
	reg, err := getRegistry()
	if err != nil {
		return nil, err
	}
	prj, err := getProject(reg)
	if err != nil {
		return nil, err
	}
	return newEnvironment(reg, prj)
}

func newEnvironment(reg *satchel.Registry, prj *satchel.Project) (*environment, error) {
	cacheDir := tools.DefaultCacheDir()
	cache, err := tools.NewCache(cacheDir)
	if err != nil {
		return nil, err
	}

	runner := &satchel.ExecRunner{}
	toolRegistry := tools.NewRegistry(cache, runner)
	return &environment{
		Registry: reg,
		Project:  prj,
		Tools:    toolRegistry,
		Runner:   runner,
		Renderer: newRenderer(cacheDir, runner, toolRegistry),
	}, nil
}

func newRenderer(cacheDir string, runner satchel.Runner, locator satchel.ToolLocator) *satchel.TemplateRenderer {
	return &satchel.TemplateRenderer{
		CacheDir: filepath.Join(cacheDir, "templates"),
		Runner:   runner,
		Tools:    locator,
		Builtin:  templates.Builtin(),
	}
}

func (e *environment) orchestrator() *satchel.Orchestrator {
	opts := []satchel.Option{
		satchel.WithTools(e.Tools),
		satchel.WithRunner(e.Runner),
		satchel.WithRenderer(e.Renderer),
		satchel.WithInstaller(requirements.NewInstaller(e.Tools, e.Runner)),
		satchel.WithReporter(satchel.NewConsoleReporter()),
		satchel.WithChannel(publish.S3ChannelName, publish.NewS3ChannelFactory()),
		satchel.WithChannel(publish.DirectoryChannelName, publish.NewDirectoryChannelFactory(e.Project.Origin)),
	}
	if !noInput && isInteractive() {
		opts = append(opts, satchel.WithConfirmer(huhConfirmer{}))
	}
	return satchel.NewOrchestrator(e.Project.Origin, e.Registry, opts...)
}
