package satchel

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/xerrors"
)

// Stage is a step of the app lifecycle
type Stage string

const (
	// StageCreate renders the platform scaffold from a template
	StageCreate Stage = "create"
	// StageUpdate installs app code and requirements into the scaffold
	StageUpdate Stage = "update"
	// StageBuild compiles the scaffold into a runnable app
	StageBuild Stage = "build"
	// StageRun launches the built app
	StageRun Stage = "run"
	// StagePackage produces a distributable artifact
	StagePackage Stage = "package"
	// StagePublish uploads the artifact to a publication channel
	StagePublish Stage = "publish"
)

// Stages lists all stages in lifecycle order
var Stages = []Stage{StageCreate, StageUpdate, StageBuild, StageRun, StagePackage, StagePublish}

// Layout describes where things live inside a bundle. All paths are relative to the bundle path.
type Layout struct {
	// AppPath receives the app sources
	AppPath string
	// AppPackagesPath receives the installed requirements
	AppPackagesPath string
	// BinaryPath is the built executable or app bundle
	BinaryPath string
	// ProjectPath is what open hands to the host, e.g. an IDE project
	ProjectPath string
}

// TargetPlatform describes what the requirement installer builds for
type TargetPlatform struct {
	// Name identifies the target in messages, e.g. "iOS" or "android"
	Name string
	// CrossCompiled is true when the target cannot execute code built for the host
	CrossCompiled bool
	// WheelTags are path.Match patterns of binary wheel platform tags that run on the target
	WheelTags []string
	// Indexes are consulted in order after the primary package index
	Indexes []string
	// PipArgs are appended to every pip invocation for this target
	PipArgs []string
}

// TemplateRef points to a template
type TemplateRef struct {
	// URL is a local directory or a git repository URL
	URL    string
	Branch string
}

// SigningMode describes how an artifact was signed
type SigningMode string

const (
	// SigningNone means the artifact is not signed
	SigningNone SigningMode = "none"
	// SigningAdHoc means the artifact carries an ad-hoc signature that only works locally
	SigningAdHoc SigningMode = "adhoc"
	// SigningIdentity means the artifact was signed with a developer identity
	SigningIdentity SigningMode = "identity"
)

// Artifact is the output of the package stage
type Artifact struct {
	Path     string      `yaml:"path" json:"path"`
	Signing  SigningMode `yaml:"signing" json:"signing"`
	Identity string      `yaml:"identity,omitempty" json:"identity,omitempty"`
}

// RunOptions configure how an app is launched
type RunOptions struct {
	// Args are passed to the app verbatim
	Args []string
	// Env is added to the app's environment
	Env []string
	// TestMode runs the test suite instead of the app
	TestMode bool
	// Debugger names the debugger the app is launched under
	Debugger string
}

// Backend implements the lifecycle for one (platform, format) pair.
// Backends are stateless; everything they need arrives through the BuildContext.
type Backend interface {
	Platform() string
	Format() string
	// SupportedHostOS lists the GOOS values this backend can build on. Nil means any.
	SupportedHostOS() []string
	// RequiredTools lists the tools a stage needs on top of what the orchestrator needs
	RequiredTools(stage Stage) []string
	Layout(app *AppConfig) Layout
	TargetPlatform(app *AppConfig) TargetPlatform
	// Template returns the default template used to create the scaffold
	Template(app *AppConfig) TemplateRef
	// TemplateContext returns backend-specific values made available to the template
	TemplateContext(app *AppConfig) map[string]interface{}

	// Create runs after the scaffold has been rendered
	Create(ctx context.Context, bctx *BuildContext, app *AppConfig) error
	// Update runs after app code and requirements were installed
	Update(ctx context.Context, bctx *BuildContext, app *AppConfig) error
	Build(ctx context.Context, bctx *BuildContext, app *AppConfig) error
	Run(ctx context.Context, bctx *BuildContext, app *AppConfig, opts RunOptions) error
	// Package assembles the distributable artifact
	Package(ctx context.Context, bctx *BuildContext, app *AppConfig) (*Artifact, error)
	// Publish hands the artifact to a channel
	Publish(ctx context.Context, bctx *BuildContext, app *AppConfig, channel Channel, artifact *Artifact) error
}

// Signer is implemented by backends that can sign what they build.
// An empty identity requests an ad-hoc signature.
type Signer interface {
	// SignBundle signs the built app before it is packaged
	SignBundle(ctx context.Context, bctx *BuildContext, app *AppConfig, identity string) error
	// SignArtifact signs the packaged artifact. Artifacts whose format cannot carry
	// a signature of their own are left alone.
	SignArtifact(ctx context.Context, bctx *BuildContext, app *AppConfig, artifact *Artifact, identity string) error
}

// Channel is a publication channel
type Channel interface {
	Name() string
	// RequiresSignature is true if the channel refuses artifacts that are not signed with an identity
	RequiresSignature() bool
	// Publish uploads the artifact and returns its location
	Publish(ctx context.Context, app *AppConfig, artifact *Artifact) (location string, err error)
}

// Registry maps (platform, format) pairs to backends
type Registry struct {
	// HostOS is the GOOS value backends are checked against
	HostOS string

	backends map[string]map[string]Backend
	defaults map[string]string
}

// NewRegistry produces an empty registry for the current host
func NewRegistry() *Registry {
	return &Registry{
		HostOS:   runtime.GOOS,
		backends: make(map[string]map[string]Backend),
		defaults: make(map[string]string),
	}
}

// Register adds a backend. The first backend registered for a platform becomes its default format.
func (r *Registry) Register(platform, format string, b Backend) error {
	if platform == "" || format == "" {
		return xerrors.Errorf("platform and format must not be empty")
	}
	if _, exists := r.backends[platform][format]; exists {
		return xerrors.Errorf("backend for %s %s is already registered", platform, format)
	}

	if r.backends[platform] == nil {
		r.backends[platform] = make(map[string]Backend)
		r.defaults[platform] = format
	}
	r.backends[platform][format] = b
	return nil
}

// SetDefault changes the default format of a platform
func (r *Registry) SetDefault(platform, format string) error {
	if _, exists := r.backends[platform][format]; !exists {
		return xerrors.Errorf("cannot make %s the default: no backend for %s %s", format, platform, format)
	}
	r.defaults[platform] = format
	return nil
}

// Resolve finds the backend for a platform and format. An empty format selects the platform's default.
func (r *Registry) Resolve(platform, format string) (Backend, error) {
	formats, ok := r.backends[platform]
	if !ok {
		return nil, &UnsupportedPlatformError{Platform: platform, Known: r.Platforms()}
	}
	if format == "" {
		format = r.defaults[platform]
	}
	b, ok := formats[format]
	if !ok {
		return nil, &UnsupportedFormatError{Platform: platform, Format: format, Known: r.Formats(platform)}
	}

	if hosts := b.SupportedHostOS(); len(hosts) > 0 {
		var supported bool
		for _, h := range hosts {
			if h == r.HostOS {
				supported = true
				break
			}
		}
		if !supported {
			return nil, &HostPlatformUnsupportedError{Platform: platform, Format: format, Host: r.HostOS, Supported: hosts}
		}
	}
	return b, nil
}

// Platforms lists all registered platforms, sorted
func (r *Registry) Platforms() []string {
	res := make([]string, 0, len(r.backends))
	for p := range r.backends {
		res = append(res, p)
	}
	sort.Strings(res)
	return res
}

// Formats lists the registered formats of a platform, sorted
func (r *Registry) Formats(platform string) []string {
	res := make([]string, 0, len(r.backends[platform]))
	for f := range r.backends[platform] {
		res = append(res, f)
	}
	sort.Strings(res)
	return res
}

// DefaultFormat returns the default format of a platform
func (r *Registry) DefaultFormat(platform string) string {
	return r.defaults[platform]
}
