package satchel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/doublestar"
)

// defaultCleanupPaths are removed from every app after its code was installed
var defaultCleanupPaths = []string{"**/__pycache__"}

func (o *Orchestrator) create(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) error {
	exists := st.Stage != StateAbsent
	if exists && !bctx.Options.Clean {
		var ok bool
		if o.confirmer != nil {
			var err error
			ok, err = o.confirmer.Confirm(fmt.Sprintf("Application %s already exists for %s %s. Overwrite it?", app.AppName, b.Platform(), b.Format()))
			if err != nil {
				return err
			}
		}
		if !ok {
			return &DirectoryExistsError{Path: bctx.BundlePath}
		}
	}

	return o.stage(bctx, app, StageCreate, func() error {
		err := o.requireTools(ctx, b, StageCreate, app)
		if err != nil {
			return err
		}
		if o.renderer == nil {
			return &TemplateError{Template: b.Template(app).URL, Err: xerrors.Errorf("no template renderer configured")}
		}

		parent := filepath.Dir(bctx.BundlePath)
		err = os.MkdirAll(parent, 0755)
		if err != nil {
			return err
		}
		tmp, err := os.MkdirTemp(parent, "."+filepath.Base(bctx.BundlePath)+"-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)

		err = o.renderer.Render(ctx, o.templateRef(b, app), TemplateData(app, b.TemplateContext(app)), tmp)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fp, err := ScaffoldFingerprint(tmp)
		if err != nil {
			return err
		}
		if exists {
			log.WithField("bundle", bctx.BundlePath).Info("removing existing application bundle")
			err = os.RemoveAll(bctx.BundlePath)
			if err != nil {
				return xerrors.Errorf("cannot remove existing bundle: %w", err)
			}
		}
		err = os.Rename(tmp, bctx.BundlePath)
		if err != nil {
			return xerrors.Errorf("cannot move scaffold into place: %w", err)
		}

		err = b.Create(ctx, bctx, app)
		if err != nil {
			return err
		}

		*st = BuildState{Stage: StateCreated, ScaffoldFingerprint: fp}
		return o.states.Save(bctx.BundlePath, st)
	})
}

func (o *Orchestrator) templateRef(b Backend, app *AppConfig) TemplateRef {
	ref := b.Template(app)
	if app.Template != "" {
		ref = TemplateRef{URL: app.Template}
		if isLocalPath(app.Template) && !filepath.IsAbs(app.Template) {
			ref.URL = filepath.Join(o.BasePath, app.Template)
		}
	}
	if app.TemplateBranch != "" {
		ref.Branch = app.TemplateBranch
	}
	return ref
}

func (o *Orchestrator) update(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) error {
	if st.Stage < StateCreated {
		return &PreconditionError{App: app.AppName, Stage: StageUpdate, State: st.Stage, Required: StateCreated}
	}

	return o.stage(bctx, app, StageUpdate, func() error {
		err := o.requireTools(ctx, b, StageUpdate, app)
		if err != nil {
			return err
		}

		err = o.installAppCode(bctx, app)
		if err != nil {
			return err
		}

		fp, err := o.installRequirements(ctx, bctx, b, app, st)
		if err != nil {
			return err
		}

		err = b.Update(ctx, bctx, app)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st.Stage = StateUpdated
		st.RequirementsFingerprint = fp
		st.TestMode = bctx.Options.TestMode
		st.Debugger = bctx.Options.Debugger
		st.Artifact = nil
		return o.states.Save(bctx.BundlePath, st)
	})
}

// installAppCode replaces the app code in the bundle with the current sources
func (o *Orchestrator) installAppCode(bctx *BuildContext, app *AppConfig) error {
	dst := bctx.Path(bctx.Layout.AppPath)
	err := os.RemoveAll(dst)
	if err != nil {
		return xerrors.Errorf("cannot remove old app code: %w", err)
	}
	err = os.MkdirAll(dst, 0755)
	if err != nil {
		return err
	}

	sources := append([]string{}, app.Sources...)
	if bctx.Options.TestMode {
		sources = append(sources, app.TestSources...)
	}
	for _, src := range sources {
		abs := src
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(o.BasePath, src)
		}
		if _, err := os.Stat(abs); err != nil {
			return &MissingSourceError{App: app.AppName, Source: src}
		}

		err = CopyTree(abs, filepath.Join(dst, filepath.Base(abs)))
		if err != nil {
			return xerrors.Errorf("cannot install source %s: %w", src, err)
		}
	}

	for _, ptn := range append(append([]string{}, defaultCleanupPaths...), app.CleanupPaths...) {
		matches, err := doublestar.Glob(bctx.BundlePath, ptn, doublestar.IgnoreStrings([]string{"/" + StateDir}))
		if err != nil {
			return xerrors.Errorf("invalid cleanup path %s: %w", ptn, err)
		}
		for _, m := range matches {
			log.WithField("path", m).Debug("removing")
			err = os.RemoveAll(m)
			if err != nil {
				return err
			}
		}
	}

	log.WithField("app", app.AppName).WithField("sources", sources).Debug("installed app code")
	return nil
}

// installRequirements installs the app's requirements if they changed and returns their fingerprint
func (o *Orchestrator) installRequirements(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) (string, error) {
	reqs := EffectiveRequires(app, bctx.Options)
	target := b.TargetPlatform(app)
	fp, err := RequirementsFingerprint(reqs, target)
	if err != nil {
		return "", err
	}

	force := bctx.Options.UpdateRequirements || bctx.Options.UpdateDependencies
	if !force && st.RequirementsFingerprint == fp {
		log.WithField("app", app.AppName).Debug("requirements are up to date")
		return fp, nil
	}
	if o.installer == nil {
		return "", &InstallError{Platform: target.Name, Err: xerrors.Errorf("no requirement installer configured")}
	}

	if st.RequirementsFingerprint != "" {
		// the installer replaces the installed packages, so the old fingerprint
		// must not survive a failed installation
		st.RequirementsFingerprint = ""
		err = o.states.Save(bctx.BundlePath, st)
		if err != nil {
			return "", err
		}
	}

	_, err = o.installer.Install(ctx, reqs, bctx.Path(bctx.Layout.AppPackagesPath), target)
	if err != nil {
		return "", err
	}
	return fp, nil
}

func (o *Orchestrator) build(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) error {
	if st.Stage == StateAbsent {
		return &PreconditionError{App: app.AppName, Stage: StageBuild, State: st.Stage, Required: StateUpdated}
	}

	needsUpdate := st.Stage == StateCreated || bctx.Options.Update || (!bctx.Options.NoUpdate && modeChanged(st, bctx.Options))
	if needsUpdate {
		err := o.update(ctx, bctx, b, app, st)
		if err != nil {
			return err
		}
	}

	return o.stage(bctx, app, StageBuild, func() error {
		err := o.requireTools(ctx, b, StageBuild, app)
		if err != nil {
			return err
		}

		err = b.Build(ctx, bctx, app)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st.Stage = StateBuilt
		st.BuiltAt = time.Now().UTC()
		st.Artifact = nil
		return o.states.Save(bctx.BundlePath, st)
	})
}

func (o *Orchestrator) run(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) error {
	if st.Stage == StateAbsent {
		return &PreconditionError{App: app.AppName, Stage: StageRun, State: st.Stage, Required: StateBuilt}
	}

	if st.Stage < StateBuilt || bctx.Options.Update || (!bctx.Options.NoUpdate && modeChanged(st, bctx.Options)) {
		err := o.build(ctx, bctx, b, app, st)
		if err != nil {
			return err
		}
	}

	return o.stage(bctx, app, StageRun, func() error {
		err := o.requireTools(ctx, b, StageRun, app)
		if err != nil {
			return err
		}

		opts := RunOptions{
			Args:     bctx.Options.Args,
			TestMode: bctx.Options.TestMode,
			Debugger: bctx.Options.Debugger,
		}
		if dbg, ok := Debuggers[bctx.Options.Debugger]; ok {
			env, err := debuggerEnv(bctx.Options.Debugger, dbg)
			if err != nil {
				return err
			}
			opts.Env = append(opts.Env, env)
		}
		return b.Run(ctx, bctx, app, opts)
	})
}

// EnvvarDebugger passes the debugger configuration to the launched app
const EnvvarDebugger = "SATCHEL_DEBUGGER"

func debuggerEnv(name string, dbg Debugger) (string, error) {
	cfg, err := json.Marshal(map[string]interface{}{
		"debugger": name,
		"host":     "localhost",
		"port":     dbg.Port,
	})
	if err != nil {
		return "", err
	}
	return EnvvarDebugger + "=" + string(cfg), nil
}

func (o *Orchestrator) pkg(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) error {
	if st.Stage < StateBuilt {
		return &PreconditionError{App: app.AppName, Stage: StagePackage, State: st.Stage, Required: StateBuilt}
	}
	if st.TestMode {
		return &PackagingTestBuildError{App: app.AppName, Mode: "test"}
	}
	if st.Debugger != "" {
		return &PackagingTestBuildError{App: app.AppName, Mode: "debug"}
	}

	return o.stage(bctx, app, StagePackage, func() error {
		err := o.requireTools(ctx, b, StagePackage, app)
		if err != nil {
			return err
		}
		err = os.MkdirAll(bctx.DistPath(), 0755)
		if err != nil {
			return err
		}

		signer := o.signer(bctx, b, app)
		identity := bctx.Options.Identity
		if signer != nil {
			err = signer.SignBundle(ctx, bctx, app, identity)
			if err != nil {
				return err
			}
		}

		artifact, err := b.Package(ctx, bctx, app)
		if err != nil {
			return err
		}

		artifact.Signing = SigningNone
		if signer != nil {
			err = signer.SignArtifact(ctx, bctx, app, artifact, identity)
			if err != nil {
				return err
			}
			if identity == "" {
				artifact.Signing = SigningAdHoc
			} else {
				artifact.Signing = SigningIdentity
				artifact.Identity = identity
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st.Stage = StatePackaged
		st.Artifact = artifact
		return o.states.Save(bctx.BundlePath, st)
	})
}

// signer returns the backend's signer, or nil if the app is not to be signed
func (o *Orchestrator) signer(bctx *BuildContext, b Backend, app *AppConfig) Signer {
	signer, ok := b.(Signer)
	if !ok || bctx.Options.NoSign {
		return nil
	}
	if bctx.Options.Identity == "" && !bctx.Options.AdHocSign {
		log.WithField("app", app.AppName).Warn("no signing identity given; the app is signed ad-hoc and will only run on this machine")
	}
	return signer
}

func (o *Orchestrator) publish(ctx context.Context, bctx *BuildContext, b Backend, app *AppConfig, st *BuildState) error {
	if st.Stage != StatePackaged || st.Artifact == nil {
		return &PreconditionError{App: app.AppName, Stage: StagePublish, State: st.Stage, Required: StatePackaged}
	}

	name := bctx.Options.Channel
	if name == "" {
		name = app.PublicationChannel
	}
	if name == "" {
		return &NoPublicationChannelError{App: app.AppName, Known: o.Channels()}
	}
	factory, ok := o.channels[name]
	if !ok {
		return &NoPublicationChannelError{App: app.AppName, Channel: name, Known: o.Channels()}
	}

	return o.stage(bctx, app, StagePublish, func() error {
		channel, err := factory(ctx, app)
		if err != nil {
			return err
		}
		if channel.RequiresSignature() && st.Artifact.Signing != SigningIdentity {
			return configErrorf("channel %s only accepts artifacts signed with an identity, but %s is %s", name, st.Artifact.Path, st.Artifact.Signing)
		}

		err = b.Publish(ctx, bctx, app, channel, st.Artifact)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st.Stage = StatePublished
		return o.states.Save(bctx.BundlePath, st)
	})
}

// Open creates the bundle if needed and opens it with the host's default handler
func (o *Orchestrator) Open(ctx context.Context, app *AppConfig, platform, format string, opts Options) error {
	b, err := o.registry.Resolve(platform, format)
	if err != nil {
		return err
	}
	bctx := o.buildContext(b, app, opts)

	st, err := o.states.Load(bctx.BundlePath)
	if err != nil {
		return err
	}
	if st.Stage == StateAbsent {
		err = o.create(ctx, bctx, b, app, st)
		if err != nil {
			return err
		}
	}

	target := bctx.Path(bctx.Layout.ProjectPath)
	var opener []string
	switch o.registry.HostOS {
	case "darwin":
		opener = []string{"open", target}
	case "windows":
		opener = []string{"explorer", target}
	default:
		opener = []string{"xdg-open", target}
	}
	_, err = o.runner.Run(ctx, Command{Name: opener[0], Args: opener[1:]})
	if err != nil {
		return xerrors.Errorf("cannot open %s: %w", strings.TrimPrefix(target, o.BasePath+string(filepath.Separator)), err)
	}
	return nil
}
