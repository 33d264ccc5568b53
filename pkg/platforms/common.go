// Package platforms contains the backends satchel ships with
package platforms

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/karrick/godirwalk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

const (
	// TemplateRepository hosts the default scaffolds, one branch per backend
	TemplateRepository = "https://github.com/gitpod-io/satchel-templates.git"

	// EnvvarMainModule tells the app stub which module to start
	EnvvarMainModule = "SATCHEL_MAIN_MODULE"
)

// Register installs all built-in backends. The first format registered for a platform is its default.
func Register(reg *satchel.Registry) error {
	backends := []satchel.Backend{
		newMacOSApp(),
		newMacOSXcode(),
		newWindowsApp(),
		newWindowsVisualStudio(),
		newLinuxSystem(),
		newLinuxAppImage(),
		newLinuxFlatpak(),
		newIOSXcode(),
		newAndroidGradle(),
		newWebStatic(),
	}
	for _, b := range backends {
		err := reg.Register(b.Platform(), b.Format(), b)
		if err != nil {
			return err
		}
	}
	return nil
}

// base implements the parts of satchel.Backend most backends share
type base struct {
	platform string
	format   string
	hostOS   []string
	tools    map[satchel.Stage][]string
}

func (b *base) Platform() string          { return b.platform }
func (b *base) Format() string            { return b.format }
func (b *base) SupportedHostOS() []string { return b.hostOS }

func (b *base) RequiredTools(stage satchel.Stage) []string {
	return b.tools[stage]
}

func (b *base) Template(app *satchel.AppConfig) satchel.TemplateRef {
	return satchel.TemplateRef{
		URL:    TemplateRepository,
		Branch: fmt.Sprintf("%s-%s", b.platform, b.format),
	}
}

func (b *base) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return nil
}

func (b *base) Create(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	return nil
}

func (b *base) Update(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	return nil
}

func (b *base) Publish(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, channel satchel.Channel, artifact *satchel.Artifact) error {
	loc, err := channel.Publish(ctx, app, artifact)
	if err != nil {
		return err
	}
	log.WithField("app", app.AppName).WithField("channel", channel.Name()).WithField("location", loc).Info("published")
	return nil
}

// launchEnv computes the environment an app is launched with
func launchEnv(app *satchel.AppConfig, opts satchel.RunOptions) []string {
	module := app.ModuleName()
	if opts.TestMode {
		module = "tests." + module
	}
	return append([]string{EnvvarMainModule + "=" + module}, opts.Env...)
}

// packagingFormat returns the packaging_format setting of an app, falling back to def
func packagingFormat(app *satchel.AppConfig, def string, known ...string) (string, error) {
	f := app.String("packaging_format")
	if f == "" {
		return def, nil
	}
	for _, k := range known {
		if f == k {
			return f, nil
		}
	}
	return "", &satchel.ConfigError{Msg: fmt.Sprintf("app %s: unknown packaging_format %q for %s/%s, use one of %s", app.AppName, f, app.Platform, app.Format, strings.Join(known, ", "))}
}

// hostArch names the host architecture the way packaging tools do
func hostArch(style string) string {
	switch style {
	case "deb":
		return map[string]string{"amd64": "amd64", "arm64": "arm64", "386": "i386"}[runtime.GOARCH]
	default:
		return map[string]string{"amd64": "x86_64", "arm64": "aarch64", "386": "i686"}[runtime.GOARCH]
	}
}

// distFile computes the path of a packaged artifact and removes any previous one
func distFile(bctx *satchel.BuildContext, name string) (string, error) {
	fn := filepath.Join(bctx.DistPath(), name)
	err := os.RemoveAll(fn)
	if err != nil {
		return "", xerrors.Errorf("cannot remove old artifact: %w", err)
	}
	return fn, nil
}

// zipDir archives the directory src into dst. Entries are prefixed with the base name of src if keepRoot is set.
func zipDir(src, dst string, keepRoot bool) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	prefix := ""
	if keepRoot {
		prefix = filepath.Base(src) + "/"
	}

	err = godirwalk.Walk(src, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(src, osPathname)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			name := prefix + filepath.ToSlash(rel)

			info, err := os.Lstat(osPathname)
			if err != nil {
				return err
			}
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = name
			if de.IsDir() {
				hdr.Name += "/"
				_, err = zw.CreateHeader(hdr)
				return err
			}
			hdr.Method = zip.Deflate

			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			if de.IsSymlink() {
				link, err := os.Readlink(osPathname)
				if err != nil {
					return err
				}
				_, err = io.WriteString(w, link)
				return err
			}
			in, err := os.Open(osPathname)
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(w, in)
			return err
		},
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// makeExecutable renames a template stub into place and marks it executable
func makeExecutable(stub, target string) error {
	if _, err := os.Stat(stub); err == nil && stub != target {
		err = os.Rename(stub, target)
		if err != nil {
			return err
		}
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(target, 0755)
}
