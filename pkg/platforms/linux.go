package platforms

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/karrick/godirwalk"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

var launcherTemplate = template.Must(template.New("launcher").Parse(`#!/bin/sh
APP_ROOT="$(dirname "$(dirname "$(readlink -f "$0")")")/lib/{{ .AppName }}"
export PYTHONPATH="$APP_ROOT/app:$APP_ROOT/app_packages${PYTHONPATH:+:$PYTHONPATH}"
exec python3 -X utf8 -m "${SATCHEL_MAIN_MODULE:-{{ .Module }}}" "$@"
`))

var debControlTemplate = template.Must(template.New("control").Parse(`Package: {{ .Package }}
Version: {{ .Version }}
Architecture: {{ .Arch }}
Maintainer: {{ .Author }} <{{ .AuthorEmail }}>
Homepage: {{ .URL }}
Description: {{ .Description }}
Depends: {{ .Depends }}
Section: utils
Priority: optional
`))

var rpmSpecTemplate = template.Must(template.New("spec").Parse(`Name: {{ .Package }}
Version: {{ .Version }}
Release: 1
Summary: {{ .Description }}
License: {{ .License }}
URL: {{ .URL }}
Requires: {{ .Depends }}
BuildArch: {{ .Arch }}

%description
{{ .Description }}

%install
cp -a {{ .Root }}/. %{buildroot}/

%files
/usr/bin/{{ .Package }}
/usr/lib/{{ .Package }}
`))

// linuxSystem packages the app for the package manager of the host distribution
type linuxSystem struct {
	base
}

func newLinuxSystem() *linuxSystem {
	return &linuxSystem{base: base{
		platform: "linux",
		format:   "system",
		hostOS:   []string{"linux"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate: {"python"},
		},
	}}
}

func (l *linuxSystem) root(app *satchel.AppConfig) string {
	return fmt.Sprintf("%s-%s", app.AppName, app.Version)
}

func (l *linuxSystem) Layout(app *satchel.AppConfig) satchel.Layout {
	root := l.root(app)
	lib := filepath.Join(root, "usr", "lib", app.AppName)
	return satchel.Layout{
		AppPath:         filepath.Join(lib, "app"),
		AppPackagesPath: filepath.Join(lib, "app_packages"),
		BinaryPath:      filepath.Join(root, "usr", "bin", app.AppName),
		ProjectPath:     root,
	}
}

func (l *linuxSystem) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "linux"}
}

func (l *linuxSystem) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	bin := bctx.Path(bctx.Layout.BinaryPath)
	err := os.MkdirAll(filepath.Dir(bin), 0755)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	err = launcherTemplate.Execute(&buf, map[string]string{
		"AppName": app.AppName,
		"Module":  app.ModuleName(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(bin, buf.Bytes(), 0755)
}

func (l *linuxSystem) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	_, err := bctx.Exec(ctx, app, satchel.Command{
		Name: bctx.Path(bctx.Layout.BinaryPath),
		Args: opts.Args,
		Env:  launchEnv(app, opts),
		Dir:  bctx.BasePath,
	})
	return err
}

func (l *linuxSystem) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	format, err := packagingFormat(app, "deb", "deb", "rpm", "tar.gz")
	if err != nil {
		return nil, err
	}

	root := bctx.Path(bctx.Layout.ProjectPath)
	depends := append([]string{"python3"}, app.Strings("system_runtime_requires")...)
	switch format {
	case "rpm":
		return l.packageRPM(ctx, bctx, app, root, depends)
	case "tar.gz":
		dst, err := distFile(bctx, fmt.Sprintf("%s-%s.tar.gz", app.AppName, app.Version))
		if err != nil {
			return nil, err
		}
		err = tarGzDir(root, dst)
		if err != nil {
			return nil, err
		}
		return &satchel.Artifact{Path: dst}, nil
	default:
		return l.packageDeb(ctx, bctx, app, root, depends)
	}
}

func (l *linuxSystem) packageDeb(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, root string, depends []string) (*satchel.Artifact, error) {
	dpkg, err := bctx.Tool(ctx, "dpkg-deb", app)
	if err != nil {
		return nil, err
	}

	arch := hostArch("deb")
	err = os.MkdirAll(filepath.Join(root, "DEBIAN"), 0755)
	if err != nil {
		return nil, err
	}
	var control bytes.Buffer
	err = debControlTemplate.Execute(&control, packageMeta(app, arch, depends, ", "))
	if err != nil {
		return nil, err
	}
	err = os.WriteFile(filepath.Join(root, "DEBIAN", "control"), control.Bytes(), 0644)
	if err != nil {
		return nil, err
	}

	dst, err := distFile(bctx, fmt.Sprintf("%s_%s-1_%s.deb", app.AppName, app.Version, arch))
	if err != nil {
		return nil, err
	}
	err = bctx.Run(ctx, app, "", dpkg.Path, "--build", "--root-owner-group", root, dst)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}

func (l *linuxSystem) packageRPM(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, root string, depends []string) (*satchel.Artifact, error) {
	rpmbuild, err := bctx.Tool(ctx, "rpmbuild", app)
	if err != nil {
		return nil, err
	}

	arch := hostArch("rpm")
	meta := packageMeta(app, arch, depends, " ")
	meta["Root"] = root
	var spec bytes.Buffer
	err = rpmSpecTemplate.Execute(&spec, meta)
	if err != nil {
		return nil, err
	}
	rpmbuildDir := bctx.Path("rpmbuild")
	specFile := filepath.Join(rpmbuildDir, "SPECS", app.AppName+".spec")
	err = os.MkdirAll(filepath.Dir(specFile), 0755)
	if err != nil {
		return nil, err
	}
	err = os.WriteFile(specFile, spec.Bytes(), 0644)
	if err != nil {
		return nil, err
	}

	err = bctx.Run(ctx, app, "", rpmbuild.Path, "-bb", "--define", "_topdir "+rpmbuildDir, specFile)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s-%s-1.%s.rpm", app.AppName, app.Version, arch)
	dst, err := distFile(bctx, name)
	if err != nil {
		return nil, err
	}
	err = satchel.CopyTree(filepath.Join(rpmbuildDir, "RPMS", arch, name), dst)
	if err != nil {
		return nil, xerrors.Errorf("cannot find rpm: %w", err)
	}
	return &satchel.Artifact{Path: dst}, nil
}

func packageMeta(app *satchel.AppConfig, arch string, depends []string, sep string) map[string]string {
	return map[string]string{
		"Package":     app.AppName,
		"Version":     app.Version,
		"Arch":        arch,
		"Author":      app.Author,
		"AuthorEmail": app.AuthorEmail,
		"URL":         app.URL,
		"License":     app.License,
		"Description": app.Description,
		"Depends":     strings.Join(depends, sep),
	}
}

// tarGzDir archives src into dst, with entries rooted at the base name of src
func tarGzDir(src, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	prefix := filepath.Base(src)

	err = godirwalk.Walk(src, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(src, osPathname)
			if err != nil {
				return err
			}
			info, err := os.Lstat(osPathname)
			if err != nil {
				return err
			}
			var link string
			if de.IsSymlink() {
				link, err = os.Readlink(osPathname)
				if err != nil {
					return err
				}
			}
			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(filepath.Join(prefix, rel))
			if de.IsDir() {
				hdr.Name += "/"
			}
			err = tw.WriteHeader(hdr)
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			in, err := os.Open(osPathname)
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(tw, in)
			return err
		},
	})
	if err != nil {
		return err
	}
	err = tw.Close()
	if err != nil {
		return err
	}
	return gz.Close()
}

// linuxAppImage bundles the app and its runtime into a single AppImage file
type linuxAppImage struct {
	base
}

func newLinuxAppImage() *linuxAppImage {
	return &linuxAppImage{base: base{
		platform: "linux",
		format:   "appimage",
		hostOS:   []string{"linux"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate: {"python"},
			satchel.StageBuild:  {"linuxdeploy"},
		},
	}}
}

func (l *linuxAppImage) appDir(app *satchel.AppConfig) string {
	return app.FormalName + ".AppDir"
}

func (l *linuxAppImage) Layout(app *satchel.AppConfig) satchel.Layout {
	appDir := l.appDir(app)
	return satchel.Layout{
		AppPath:         filepath.Join(appDir, "usr", "app"),
		AppPackagesPath: filepath.Join(appDir, "usr", "app_packages"),
		BinaryPath:      fmt.Sprintf("%s-%s-%s.AppImage", strings.ReplaceAll(app.FormalName, " ", "_"), app.Version, hostArch("")),
		ProjectPath:     ".",
	}
}

func (l *linuxAppImage) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "linux"}
}

func (l *linuxAppImage) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	linuxdeploy, err := bctx.Tool(ctx, "linuxdeploy", app)
	if err != nil {
		return err
	}

	appDir := bctx.Path(l.appDir(app))
	args := []string{
		"--appdir", appDir,
		"--desktop-file", filepath.Join(appDir, app.BundleID()+".desktop"),
		"--output", "appimage",
	}
	if app.Icon != "" {
		args = append(args, "--icon-file", filepath.Join(bctx.BasePath, app.Icon+".png"))
	}
	_, err = bctx.Exec(ctx, app, satchel.Command{
		Name: linuxdeploy.Path,
		Args: args,
		Env: []string{
			"ARCH=" + hostArch(""),
			"LINUXDEPLOY_OUTPUT_VERSION=" + app.Version,
			"APPIMAGE_EXTRACT_AND_RUN=1",
		},
	})
	if err != nil {
		return err
	}
	return makeExecutable(bctx.Path(bctx.Layout.BinaryPath), bctx.Path(bctx.Layout.BinaryPath))
}

func (l *linuxAppImage) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	_, err := bctx.Exec(ctx, app, satchel.Command{
		Name: bctx.Path(bctx.Layout.BinaryPath),
		Args: opts.Args,
		Env:  append(launchEnv(app, opts), "APPIMAGE_EXTRACT_AND_RUN=1"),
		Dir:  bctx.BasePath,
	})
	return err
}

func (l *linuxAppImage) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	src := bctx.Path(bctx.Layout.BinaryPath)
	dst, err := distFile(bctx, filepath.Base(src))
	if err != nil {
		return nil, err
	}
	err = satchel.CopyTree(src, dst)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}

// linuxFlatpak builds the app against a Flatpak runtime
type linuxFlatpak struct {
	base
}

const (
	flathubName = "flathub"
	flathubURL  = "https://flathub.org/repo/flathub.flatpakrepo"
)

func newLinuxFlatpak() *linuxFlatpak {
	return &linuxFlatpak{base: base{
		platform: "linux",
		format:   "flatpak",
		hostOS:   []string{"linux"},
		tools: map[satchel.Stage][]string{
			satchel.StageCreate:  {"flatpak"},
			satchel.StageUpdate:  {"python"},
			satchel.StageBuild:   {"flatpak", "flatpak-builder"},
			satchel.StageRun:     {"flatpak"},
			satchel.StagePackage: {"flatpak"},
		},
	}}
}

func (l *linuxFlatpak) Layout(app *satchel.AppConfig) satchel.Layout {
	return satchel.Layout{
		AppPath:         filepath.Join("src", "app"),
		AppPackagesPath: filepath.Join("src", "app_packages"),
		BinaryPath:      "repo",
		ProjectPath:     ".",
	}
}

func (l *linuxFlatpak) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "linux"}
}

func (l *linuxFlatpak) runtime(app *satchel.AppConfig) (repo, runtime, version, sdk string) {
	repo = app.String("flatpak_runtime_repo_url")
	if repo == "" {
		repo = flathubURL
	}
	runtime = app.String("flatpak_runtime")
	if runtime == "" {
		runtime = "org.freedesktop.Platform"
	}
	version = app.String("flatpak_runtime_version")
	if version == "" {
		version = "23.08"
	}
	sdk = app.String("flatpak_sdk")
	if sdk == "" {
		sdk = "org.freedesktop.Sdk"
	}
	return
}

func (l *linuxFlatpak) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	_, runtime, version, sdk := l.runtime(app)
	return map[string]interface{}{
		"FlatpakRuntime":        runtime,
		"FlatpakRuntimeVersion": version,
		"FlatpakSDK":            sdk,
	}
}

func (l *linuxFlatpak) Create(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	flatpak, err := bctx.Tool(ctx, "flatpak", app)
	if err != nil {
		return err
	}
	repo, runtime, version, sdk := l.runtime(app)
	err = bctx.Run(ctx, app, "", flatpak.Path, "remote-add", "--user", "--if-not-exists", flathubName, repo)
	if err != nil {
		return err
	}
	return bctx.Run(ctx, app, "", flatpak.Path,
		"install", "--assumeyes", "--user", flathubName,
		fmt.Sprintf("%s/%s/%s", runtime, hostArch(""), version),
		fmt.Sprintf("%s/%s/%s", sdk, hostArch(""), version),
	)
}

func (l *linuxFlatpak) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	builder, err := bctx.Tool(ctx, "flatpak-builder", app)
	if err != nil {
		return err
	}
	return bctx.Run(ctx, app, "", builder.Path,
		"--force-clean",
		"--repo", bctx.Path(bctx.Layout.BinaryPath),
		"--install",
		"--user",
		bctx.Path("build"),
		bctx.Path("manifest.yml"),
	)
}

func (l *linuxFlatpak) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	flatpak, err := bctx.Tool(ctx, "flatpak", app)
	if err != nil {
		return err
	}

	args := []string{"run"}
	for _, env := range launchEnv(app, opts) {
		args = append(args, "--env="+env)
	}
	args = append(args, app.BundleID())
	args = append(args, opts.Args...)
	_, err = bctx.Exec(ctx, app, satchel.Command{Name: flatpak.Path, Args: args, Dir: bctx.BasePath})
	return err
}

func (l *linuxFlatpak) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	flatpak, err := bctx.Tool(ctx, "flatpak", app)
	if err != nil {
		return nil, err
	}
	repo, _, _, _ := l.runtime(app)
	dst, err := distFile(bctx, fmt.Sprintf("%s-%s-%s.flatpak", app.FormalName, app.Version, hostArch("")))
	if err != nil {
		return nil, err
	}
	err = bctx.Run(ctx, app, "", flatpak.Path,
		"build-bundle",
		"--runtime-repo="+repo,
		bctx.Path(bctx.Layout.BinaryPath),
		dst,
		app.BundleID(),
	)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}
