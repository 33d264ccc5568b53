package platforms

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// windowsPackage produces an MSI installer with WiX, or a zip of the app folder
func windowsPackage(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, appDir string) (*satchel.Artifact, error) {
	format, err := packagingFormat(app, "msi", "msi", "zip")
	if err != nil {
		return nil, err
	}

	if format == "zip" {
		dst, err := distFile(bctx, fmt.Sprintf("%s-%s.zip", app.FormalName, app.Version))
		if err != nil {
			return nil, err
		}
		err = zipDir(appDir, dst, false)
		if err != nil {
			return nil, err
		}
		return &satchel.Artifact{Path: dst}, nil
	}

	wix, err := bctx.Tool(ctx, "wix", app)
	if err != nil {
		return nil, err
	}
	dst, err := distFile(bctx, fmt.Sprintf("%s-%s.msi", app.FormalName, app.Version))
	if err != nil {
		return nil, err
	}
	err = bctx.Run(ctx, app, "", wix.Path,
		"build",
		"-ext", "WixToolset.UI.wixext",
		"-arch", "x64",
		"-d", "SourceDir="+appDir,
		app.AppName+".wxs",
		"-loc", "unicode.wxl",
		"-o", dst,
	)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}

func windowsRun(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, exe string, opts satchel.RunOptions) error {
	_, err := bctx.Exec(ctx, app, satchel.Command{
		Name: exe,
		Args: opts.Args,
		Env:  launchEnv(app, opts),
		Dir:  bctx.BasePath,
	})
	return err
}

// windowsTemplateContext computes the values the MSI templates need
func windowsTemplateContext(app *satchel.AppConfig) map[string]interface{} {
	// MSI versions are restricted to three numeric components
	segs := strings.SplitN(app.Version, ".", 4)
	for len(segs) < 3 {
		segs = append(segs, "0")
	}
	version := strings.Join(segs[:3], ".")
	for _, c := range []string{"a", "b", "rc", ".dev", ".post"} {
		if idx := strings.Index(version, c); idx > 0 {
			version = version[:idx]
		}
	}

	installScope := "perUser"
	if app.Bool("system_installer") {
		installScope = "perMachine"
	}
	return map[string]interface{}{
		"VersionTriple": version,
		"InstallScope":  installScope,
		"GUID":          app.String("guid"),
	}
}

// windowsApp packages the app into a prebuilt stub executable
type windowsApp struct {
	base
}

func newWindowsApp() *windowsApp {
	return &windowsApp{base: base{
		platform: "windows",
		format:   "app",
		hostOS:   []string{"windows"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate: {"python"},
			satchel.StageBuild:  {"rcedit"},
		},
	}}
}

func (w *windowsApp) Layout(app *satchel.AppConfig) satchel.Layout {
	return satchel.Layout{
		AppPath:         filepath.Join("src", "app"),
		AppPackagesPath: filepath.Join("src", "app_packages"),
		BinaryPath:      filepath.Join("src", app.FormalName+".exe"),
		ProjectPath:     ".",
	}
}

func (w *windowsApp) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "windows"}
}

func (w *windowsApp) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return windowsTemplateContext(app)
}

func (w *windowsApp) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	exe := bctx.Path(bctx.Layout.BinaryPath)
	err := makeExecutable(bctx.Path("src", "Stub.exe"), exe)
	if err != nil {
		return err
	}

	rcedit, err := bctx.Tool(ctx, "rcedit", app)
	if err != nil {
		return err
	}
	args := []string{
		exe,
		"--set-version-string", "CompanyName", app.Author,
		"--set-version-string", "FileDescription", app.FormalName,
		"--set-version-string", "FileVersion", app.Version,
		"--set-version-string", "InternalName", app.ModuleName(),
		"--set-version-string", "OriginalFilename", filepath.Base(exe),
		"--set-version-string", "ProductName", app.FormalName,
		"--set-version-string", "ProductVersion", app.Version,
	}
	if app.Icon != "" {
		args = append(args, "--set-icon", filepath.Join(bctx.BasePath, app.Icon+".ico"))
	}
	return bctx.Run(ctx, app, "", rcedit.Path, args...)
}

func (w *windowsApp) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	return windowsRun(ctx, bctx, app, bctx.Path(bctx.Layout.BinaryPath), opts)
}

func (w *windowsApp) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	return windowsPackage(ctx, bctx, app, bctx.Path("src"))
}

// windowsVisualStudio produces a Visual Studio solution compiled with MSBuild
type windowsVisualStudio struct {
	base
}

func newWindowsVisualStudio() *windowsVisualStudio {
	return &windowsVisualStudio{base: base{
		platform: "windows",
		format:   "visualstudio",
		hostOS:   []string{"windows"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate: {"python"},
			satchel.StageBuild:  {"visualstudio"},
		},
	}}
}

func (w *windowsVisualStudio) Layout(app *satchel.AppConfig) satchel.Layout {
	release := filepath.Join("x64", "Release")
	return satchel.Layout{
		AppPath:         filepath.Join(release, "app"),
		AppPackagesPath: filepath.Join(release, "app_packages"),
		BinaryPath:      filepath.Join(release, app.FormalName+".exe"),
		ProjectPath:     app.FormalName + ".sln",
	}
}

func (w *windowsVisualStudio) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "windows"}
}

func (w *windowsVisualStudio) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return windowsTemplateContext(app)
}

func (w *windowsVisualStudio) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	msbuild, err := bctx.Tool(ctx, "visualstudio", app)
	if err != nil {
		return err
	}
	return bctx.Run(ctx, app, "", msbuild.Path,
		bctx.Path(bctx.Layout.ProjectPath),
		"-target:restore",
		"-property:RestorePackagesConfig=true",
		"-target:"+app.FormalName,
		"-property:Configuration=Release",
		"-verbosity:minimal",
	)
}

func (w *windowsVisualStudio) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	return windowsRun(ctx, bctx, app, bctx.Path(bctx.Layout.BinaryPath), opts)
}

func (w *windowsVisualStudio) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	return windowsPackage(ctx, bctx, app, bctx.Path("x64", "Release"))
}
