package platforms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

const (
	webDefaultHost = "localhost"
	webDefaultPort = 8080
	webShutdown    = 5 * time.Second
)

// webStatic produces a static site that runs the app in the browser with PyScript
type webStatic struct {
	base

	// listen is replaced in tests
	listen func(network, address string) (net.Listener, error)
}

func newWebStatic() *webStatic {
	return &webStatic{
		base: base{
			platform: "web",
			format:   "static",
			tools: map[satchel.Stage][]string{
				satchel.StageUpdate: {"python"},
			},
		},
		listen: net.Listen,
	}
}

func (w *webStatic) Layout(app *satchel.AppConfig) satchel.Layout {
	return satchel.Layout{
		AppPath:         filepath.Join("www", "app"),
		AppPackagesPath: filepath.Join("www", "app_packages"),
		BinaryPath:      "www",
		ProjectPath:     "www",
	}
}

func (w *webStatic) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{
		Name:          "web",
		CrossCompiled: true,
		WheelTags:     []string{"pyodide_*_wasm32", "emscripten_*_wasm32"},
		PipArgs:       []string{"--platform", "pyodide_2024_0_wasm32"},
	}
}

func (w *webStatic) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"PyScriptVersion": pyscriptVersion(app),
	}
}

// pyscriptConfig is the configuration PyScript loads on startup
type pyscriptConfig struct {
	Name     string            `toml:"name"`
	Version  string            `toml:"version"`
	Packages []string          `toml:"packages,omitempty"`
	Files    map[string]string `toml:"files,omitempty"`
	Main     string            `toml:"main"`
}

// Build writes the PyScript configuration that makes the app code available in the browser
func (w *webStatic) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	www := bctx.Path(bctx.Layout.BinaryPath)
	files := make(map[string]string)
	for _, dir := range []string{bctx.Layout.AppPath, bctx.Layout.AppPackagesPath} {
		root := bctx.Path(dir)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := godirwalk.Walk(root, &godirwalk.Options{
			Callback: func(osPathname string, de *godirwalk.Dirent) error {
				if de.IsDir() {
					if de.Name() == "__pycache__" {
						return godirwalk.SkipThis
					}
					return nil
				}
				rel, err := filepath.Rel(root, osPathname)
				if err != nil {
					return err
				}
				served, err := filepath.Rel(www, osPathname)
				if err != nil {
					return err
				}
				files["./"+filepath.ToSlash(served)] = filepath.ToSlash(rel)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}

	cfg := pyscriptConfig{
		Name:    app.FormalName,
		Version: app.Version,
		Files:   files,
		Main:    app.ModuleName(),
	}
	if bctx.Options.TestMode {
		cfg.Main = "tests." + cfg.Main
	}
	cfg.Packages = app.Strings("web_packages")

	fc, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(www, "pyscript.toml"), fc, 0644)
}

// Run serves the site until the context is cancelled
func (w *webStatic) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	host := app.String("host")
	if host == "" {
		host = webDefaultHost
	}
	port := webDefaultPort
	switch p := app.Settings["port"].(type) {
	case nil:
	case int64:
		port = int(p)
	case string:
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return &satchel.ConfigError{Msg: fmt.Sprintf("app %s: invalid port %q", app.AppName, p)}
		}
	default:
		return &satchel.ConfigError{Msg: fmt.Sprintf("app %s: invalid port %v", app.AppName, p)}
	}

	l, err := w.listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return xerrors.Errorf("cannot serve %s: %w", app.AppName, err)
	}

	www := bctx.Path(bctx.Layout.BinaryPath)
	srv := &http.Server{
		Handler:           noCache(http.FileServer(http.Dir(www))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	url := fmt.Sprintf("http://%s/", l.Addr().String())
	log.WithField("app", app.AppName).WithField("url", url).Info("serving web app, press Ctrl-C to stop")
	bctx.Reporter.StageLog(app, false, []byte(fmt.Sprintf("Web server open on %s\n", url)))

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webShutdown)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			log.WithError(err).Debug("web server did not shut down cleanly")
		}
		return ctx.Err()
	}
}

func noCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Cache-Control", "no-store, must-revalidate")
		if path.Ext(r.URL.Path) == ".py" {
			rw.Header().Set("Content-Type", "text/x-python; charset=utf-8")
		}
		h.ServeHTTP(rw, r)
	})
}

func (w *webStatic) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	dst, err := distFile(bctx, fmt.Sprintf("%s-%s.web.zip", app.FormalName, app.Version))
	if err != nil {
		return nil, err
	}
	err = zipDir(bctx.Path(bctx.Layout.BinaryPath), dst, false)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}

func pyscriptVersion(app *satchel.AppConfig) string {
	if v := app.String("pyscript_version"); v != "" {
		return v
	}
	return "2024.9.2"
}
