package satchel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// devTarget is what requirements are installed for in dev mode
var devTarget = TargetPlatform{Name: "dev"}

// restartDelay debounces bursts of file events in watch mode
const restartDelay = 300 * time.Millisecond

// DevPath is where dev mode keeps the installed requirements of an app
func (o *Orchestrator) DevPath(app *AppConfig) string {
	return filepath.Join(o.BasePath, "build", app.AppName, "dev")
}

// Dev runs an app from its sources. Requirements are installed into a private directory
// whenever they changed. With opts.Watch the app is restarted whenever a source changes.
func (o *Orchestrator) Dev(ctx context.Context, app *AppConfig, opts Options) error {
	if o.tools == nil {
		return &ToolNotFoundError{Tool: "python", Remediation: "no tool registry configured"}
	}
	python, err := o.tools.Require(ctx, "python", app)
	if err != nil {
		return err
	}

	dir := o.DevPath(app)
	bctx := &BuildContext{
		Stage:      StageRun,
		BasePath:   o.BasePath,
		BundlePath: dir,
		Layout:     Layout{AppPackagesPath: "packages"},
		HostOS:     o.registry.HostOS,
		Options:    opts,
		Tools:      o.tools,
		Runner:     o.runner,
		Reporter:   o.reporter,
	}

	err = o.devRequirements(ctx, bctx, app)
	if err != nil {
		return err
	}

	cmd, err := o.devCommand(bctx, app, python)
	if err != nil {
		return err
	}
	if !opts.Watch {
		return o.stage(bctx, app, StageRun, func() error {
			_, err := bctx.Exec(ctx, app, cmd)
			return err
		})
	}
	return o.devWatch(ctx, bctx, app, cmd)
}

func (o *Orchestrator) devRequirements(ctx context.Context, bctx *BuildContext, app *AppConfig) error {
	st, err := o.states.Load(bctx.BundlePath)
	if err != nil {
		return err
	}
	if st.Stage == StateAbsent {
		st.Stage = StateCreated
	}

	reqs := EffectiveRequires(app, bctx.Options)
	fp, err := RequirementsFingerprint(reqs, devTarget)
	if err != nil {
		return err
	}
	if !bctx.Options.UpdateRequirements && !bctx.Options.UpdateDependencies && st.RequirementsFingerprint == fp {
		return nil
	}
	if o.installer == nil {
		return &InstallError{Platform: devTarget.Name, Err: xerrors.Errorf("no requirement installer configured")}
	}

	return o.stage(bctx, app, StageUpdate, func() error {
		_, err := o.installer.Install(ctx, reqs, bctx.Path(bctx.Layout.AppPackagesPath), devTarget)
		if err != nil {
			return err
		}
		st.Stage = StateUpdated
		st.RequirementsFingerprint = fp
		st.TestMode = bctx.Options.TestMode
		return o.states.Save(bctx.BundlePath, st)
	})
}

func (o *Orchestrator) devCommand(bctx *BuildContext, app *AppConfig, python *ToolHandle) (Command, error) {
	sources := append([]string{}, app.Sources...)
	if bctx.Options.TestMode {
		sources = append(sources, app.TestSources...)
	}

	var pythonPath []string
	for _, src := range sources {
		abs := src
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(o.BasePath, src)
		}
		if _, err := os.Stat(abs); err != nil {
			return Command{}, &MissingSourceError{App: app.AppName, Source: src}
		}
		parent := filepath.Dir(abs)
		if len(pythonPath) == 0 || pythonPath[len(pythonPath)-1] != parent {
			pythonPath = append(pythonPath, parent)
		}
	}
	pythonPath = append(pythonPath, bctx.Path(bctx.Layout.AppPackagesPath))

	args := []string{"-u", "-X", "utf8", "-m", app.ModuleName()}
	if bctx.Options.TestMode {
		args = []string{"-u", "-X", "utf8", "-m", "pytest"}
	}
	args = append(args, bctx.Options.Args...)

	env := []string{
		"PYTHONPATH=" + strings.Join(pythonPath, string(os.PathListSeparator)),
		"PYTHONDEVMODE=1",
	}
	if dbg, ok := Debuggers[bctx.Options.Debugger]; ok {
		e, err := debuggerEnv(bctx.Options.Debugger, dbg)
		if err != nil {
			return Command{}, err
		}
		env = append(env, e)
	}

	return Command{
		Name: python.Path,
		Args: args,
		Dir:  o.BasePath,
		Env:  env,
	}, nil
}

// devWatch runs the app and restarts it whenever a source file changes
func (o *Orchestrator) devWatch(ctx context.Context, bctx *BuildContext, app *AppConfig, cmd Command) error {
	var roots []string
	for _, src := range app.Sources {
		if !filepath.IsAbs(src) {
			src = filepath.Join(o.BasePath, src)
		}
		roots = append(roots, src)
	}
	changed, errs := WatchSources(ctx, roots)

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- o.stage(bctx, app, StageRun, func() error {
				_, err := bctx.Exec(runCtx, app, cmd)
				return err
			})
		}()

		select {
		case fn := <-changed:
			log.WithField("path", fn).Info("source changed, restarting app")
			cancel()
			<-done
			// drain the events of a burst of changes
			timer := time.NewTimer(restartDelay)
		drain:
			for {
				select {
				case <-changed:
				case <-timer.C:
					break drain
				}
			}
		case err := <-errs:
			cancel()
			<-done
			return xerrors.Errorf("cannot watch sources: %w", err)
		case err := <-done:
			cancel()
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("app exited, waiting for source changes")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// WatchSources watches the source trees until the context is done. Changes to
// compiled Python files are ignored.
func WatchSources(ctx context.Context, roots []string) (changed <-chan string, errs <-chan error) {
	var (
		chng    = make(chan string)
		errchan = make(chan error, 1)
	)
	changed = chng
	errs = errchan

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errchan <- err
		return
	}

	addTree := func(root string) {
		_ = godirwalk.Walk(root, &godirwalk.Options{
			Callback: func(osPathname string, de *godirwalk.Dirent) error {
				if !de.IsDir() {
					return nil
				}
				if de.Name() == "__pycache__" {
					return filepath.SkipDir
				}
				log.WithField("path", osPathname).Debug("adding watcher")
				return watcher.Add(osPathname)
			},
			Unsorted: true,
		})
	}
	for _, root := range roots {
		addTree(root)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case evt := <-watcher.Events:
				if strings.Contains(evt.Name, "__pycache__") || strings.HasSuffix(evt.Name, ".pyc") {
					continue
				}
				if evt.Has(fsnotify.Create) {
					if stat, err := os.Stat(evt.Name); err == nil && stat.IsDir() {
						addTree(evt.Name)
					}
				}

				log.WithField("path", evt.Name).Debug("source file changed")
				select {
				case chng <- evt.Name:
				case <-ctx.Done():
					return
				}
			case err := <-watcher.Errors:
				errchan <- err
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return
}
