package satchel

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Options are the user's choices for a stage invocation
type Options struct {
	// Clean replaces an existing scaffold on create
	Clean bool
	// Update forces an update before build or run
	Update bool
	// NoUpdate skips the implicit update build and run would otherwise perform
	NoUpdate bool
	// UpdateRequirements invalidates the requirements fingerprint
	UpdateRequirements bool
	// UpdateDependencies reinstalls requirements even if the fingerprint is current
	UpdateDependencies bool
	// TestMode includes test sources and requirements and makes run execute the test suite
	TestMode bool
	// Debugger is one of the keys of Debuggers
	Debugger string
	// Args are passed through to the app
	Args []string
	// Identity signs the packaged artifact. Ignored when NoSign is set.
	Identity string
	// AdHocSign requests an ad-hoc signature
	AdHocSign bool
	// NoSign skips signing
	NoSign bool
	// Channel overrides the configured publication channel
	Channel string
	// Watch restarts dev mode on source changes
	Watch bool
}

// Debugger describes how an app is launched under a debugger
type Debugger struct {
	// Requirement is added to the app's requirements when the debugger is used
	Requirement string
	Port        int
}

// Debuggers lists the supported debuggers
var Debuggers = map[string]Debugger{
	"pdb":     {Requirement: "remote-pdb>=2.1", Port: 5678},
	"debugpy": {Requirement: "debugpy>=1.8", Port: 5679},
}

// StageResult is the outcome of a stage for one app
type StageResult struct {
	App      string    `yaml:"app" json:"app"`
	Platform string    `yaml:"platform" json:"platform"`
	Format   string    `yaml:"format" json:"format"`
	Stage    Stage     `yaml:"stage" json:"stage"`
	State    State     `yaml:"state" json:"state"`
	Artifact *Artifact `yaml:"artifact,omitempty" json:"artifact,omitempty"`
}

// ChannelFactory produces a publication channel configured for an app
type ChannelFactory func(ctx context.Context, app *AppConfig) (Channel, error)

// Orchestrator drives apps through the lifecycle
type Orchestrator struct {
	BasePath string

	registry  *Registry
	tools     ToolLocator
	renderer  Renderer
	installer RequirementInstaller
	runner    Runner
	reporter  Reporter
	confirmer Confirmer
	states    *StateTracker
	channels  map[string]ChannelFactory
}

// Option configures an orchestrator
type Option func(*Orchestrator)

// WithTools configures the tool locator
func WithTools(tools ToolLocator) Option {
	return func(o *Orchestrator) {
		o.tools = tools
	}
}

// WithRenderer configures the template renderer
func WithRenderer(r Renderer) Option {
	return func(o *Orchestrator) {
		o.renderer = r
	}
}

// WithInstaller configures the requirement installer
func WithInstaller(i RequirementInstaller) Option {
	return func(o *Orchestrator) {
		o.installer = i
	}
}

// WithRunner configures how subprocesses are run
func WithRunner(r Runner) Option {
	return func(o *Orchestrator) {
		o.runner = r
	}
}

// WithReporter configures the progress reporter
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) {
		o.reporter = r
	}
}

// WithConfirmer enables interactive confirmation. Without one all questions are answered with no.
func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) {
		o.confirmer = c
	}
}

// WithStateTracker configures the build state tracker
func WithStateTracker(t *StateTracker) Option {
	return func(o *Orchestrator) {
		o.states = t
	}
}

// WithChannel registers a publication channel
func WithChannel(name string, f ChannelFactory) Option {
	return func(o *Orchestrator) {
		o.channels[name] = f
	}
}

// NewOrchestrator produces an orchestrator for the project at basePath
func NewOrchestrator(basePath string, reg *Registry, opts ...Option) *Orchestrator {
	res := &Orchestrator{
		BasePath: basePath,
		registry: reg,
		runner:   &ExecRunner{},
		reporter: NoopReporter{},
		states:   &StateTracker{},
		channels: make(map[string]ChannelFactory),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Channels lists the registered publication channels
func (o *Orchestrator) Channels() []string {
	res := make([]string, 0, len(o.channels))
	for name := range o.channels {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// BundlePath is where the bundle of an app for a platform and format lives
func (o *Orchestrator) BundlePath(app *AppConfig, platform, format string) string {
	return filepath.Join(o.BasePath, "build", app.AppName, platform, format)
}

// State returns the recorded state of an app's bundle
func (o *Orchestrator) State(app *AppConfig, platform, format string) (*BuildState, error) {
	b, err := o.registry.Resolve(platform, format)
	if err != nil {
		return nil, err
	}
	return o.states.Load(o.BundlePath(app, b.Platform(), b.Format()))
}

// RunAll runs a stage for several apps, one after the other in name order.
// A missing or outdated tool fails only the app that needs it; the remaining apps still run
// and all tool errors are returned together. Any other failure aborts the remaining apps.
func (o *Orchestrator) RunAll(ctx context.Context, stage Stage, apps []*AppConfig, platform, format string, opts Options) ([]*StageResult, error) {
	sorted := make([]*AppConfig, len(apps))
	copy(sorted, apps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AppName < sorted[j].AppName })

	var (
		res      = make([]*StageResult, 0, len(sorted))
		toolErrs []error
	)
	for _, app := range sorted {
		r, err := o.RunStage(ctx, stage, app, platform, format, opts)
		if r != nil {
			res = append(res, r)
		}
		if err == nil {
			continue
		}
		if !isToolError(err) {
			toolErrs = append(toolErrs, err)
			return res, errors.Join(toolErrs...)
		}

		log.WithError(err).WithField("app", app.AppName).Warn("skipping app")
		toolErrs = append(toolErrs, err)
	}
	return res, errors.Join(toolErrs...)
}

func isToolError(err error) bool {
	var (
		notFound *ToolNotFoundError
		version  *ToolVersionError
	)
	return errors.As(err, &notFound) || errors.As(err, &version)
}

// RunStage runs a stage for an app, running the stages it depends on where needed
func (o *Orchestrator) RunStage(ctx context.Context, stage Stage, app *AppConfig, platform, format string, opts Options) (*StageResult, error) {
	res := &StageResult{App: app.AppName, Platform: platform, Format: format, Stage: stage, State: StateFailed}

	b, err := o.registry.Resolve(platform, format)
	if err != nil {
		return res, err
	}
	res.Format = b.Format()
	if opts.Debugger != "" {
		if _, ok := Debuggers[opts.Debugger]; !ok {
			return res, configErrorf("unknown debugger %q", opts.Debugger)
		}
	}

	bctx := o.buildContext(b, app, opts)
	st, err := o.states.Load(bctx.BundlePath)
	if err != nil {
		return res, err
	}

	log.WithFields(log.Fields{
		"app":    app.AppName,
		"stage":  stage,
		"bundle": bctx.BundlePath,
		"state":  st.Stage,
	}).Debug("running stage")

	switch stage {
	case StageCreate:
		err = o.create(ctx, bctx, b, app, st)
	case StageUpdate:
		err = o.update(ctx, bctx, b, app, st)
	case StageBuild:
		err = o.build(ctx, bctx, b, app, st)
	case StageRun:
		err = o.run(ctx, bctx, b, app, st)
	case StagePackage:
		err = o.pkg(ctx, bctx, b, app, st)
	case StagePublish:
		err = o.publish(ctx, bctx, b, app, st)
	default:
		err = xerrors.Errorf("unknown stage %q", stage)
	}
	if err != nil {
		return res, err
	}

	res.State = st.Stage
	res.Artifact = st.Artifact
	return res, nil
}

func (o *Orchestrator) buildContext(b Backend, app *AppConfig, opts Options) *BuildContext {
	return &BuildContext{
		BasePath:   o.BasePath,
		BundlePath: o.BundlePath(app, b.Platform(), b.Format()),
		Layout:     b.Layout(app),
		HostOS:     o.registry.HostOS,
		Options:    opts,
		Tools:      o.tools,
		Runner:     o.runner,
		Reporter:   o.reporter,
	}
}

// stage reports a stage around fn
func (o *Orchestrator) stage(bctx *BuildContext, app *AppConfig, stage Stage, fn func() error) error {
	prev := bctx.Stage
	bctx.Stage = stage
	defer func() { bctx.Stage = prev }()

	o.reporter.StageStarted(app, stage)
	err := fn()
	o.reporter.StageFinished(app, stage, err)
	return err
}

// requireTools verifies every tool a backend needs for a stage before the stage does any work
func (o *Orchestrator) requireTools(ctx context.Context, b Backend, stage Stage, app *AppConfig) error {
	names := b.RequiredTools(stage)
	if len(names) == 0 {
		return nil
	}
	if o.tools == nil {
		return &ToolNotFoundError{Tool: names[0], Remediation: "no tool registry configured"}
	}
	for _, name := range names {
		_, err := o.tools.Require(ctx, name, app)
		if err != nil {
			return err
		}
	}
	return nil
}

// EffectiveRequires returns the requirements an app is installed with under the given options
func EffectiveRequires(app *AppConfig, opts Options) []string {
	res := append([]string{}, app.Requires...)
	if opts.TestMode {
		res = append(res, app.TestRequires...)
	}
	if dbg, ok := Debuggers[opts.Debugger]; ok && dbg.Requirement != "" {
		res = append(res, dbg.Requirement)
	}
	return res
}

func modeChanged(st *BuildState, opts Options) bool {
	return st.TestMode != opts.TestMode || st.Debugger != opts.Debugger
}
