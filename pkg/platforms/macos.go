package platforms

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// macOSSigner signs app bundles with codesign. Both macOS backends share it.
type macOSSigner struct{}

// SignBundle signs the app bundle including everything nested inside it
func (macOSSigner) SignBundle(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, identity string) error {
	args := []string{"--deep"}
	if identity != "" {
		args = append(args, "--options", "runtime")
	}
	if ent := app.String("entitlements_path"); ent != "" {
		args = append(args, "--entitlements", bctx.Path(ent))
	}
	return codesign(ctx, bctx, app, identity, bctx.Path(bctx.Layout.BinaryPath), args...)
}

// SignArtifact signs disk images. Zip archives cannot carry a signature; the bundle inside is already signed.
func (macOSSigner) SignArtifact(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, artifact *satchel.Artifact, identity string) error {
	if !strings.HasSuffix(artifact.Path, ".dmg") {
		return nil
	}
	return codesign(ctx, bctx, app, identity, artifact.Path)
}

func codesign(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, identity, path string, extra ...string) error {
	tool, err := bctx.Tool(ctx, "codesign", app)
	if err != nil {
		return err
	}

	args := []string{"--sign"}
	if identity == "" {
		args = append(args, "-")
	} else {
		args = append(args, identity, "--timestamp")
	}
	args = append(args, "--force")
	args = append(args, extra...)
	args = append(args, path)
	return bctx.Run(ctx, app, "", tool.Path, args...)
}

// macOSPackage turns an app bundle into a dmg or zip in the dist folder
func macOSPackage(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	format, err := packagingFormat(app, "dmg", "dmg", "zip")
	if err != nil {
		return nil, err
	}

	bundle := bctx.Path(bctx.Layout.BinaryPath)
	switch format {
	case "zip":
		dst, err := distFile(bctx, fmt.Sprintf("%s-%s.app.zip", app.FormalName, app.Version))
		if err != nil {
			return nil, err
		}
		err = zipDir(bundle, dst, true)
		if err != nil {
			return nil, err
		}
		return &satchel.Artifact{Path: dst}, nil
	default:
		hdiutil, err := bctx.Tool(ctx, "hdiutil", app)
		if err != nil {
			return nil, err
		}
		dst, err := distFile(bctx, fmt.Sprintf("%s-%s.dmg", app.FormalName, app.Version))
		if err != nil {
			return nil, err
		}
		err = bctx.Run(ctx, app, "", hdiutil.Path,
			"create",
			"-volname", app.FormalName,
			"-srcfolder", bundle,
			"-ov",
			"-format", "UDZO",
			dst,
		)
		if err != nil {
			return nil, err
		}
		return &satchel.Artifact{Path: dst}, nil
	}
}

// macOSRun launches the executable inside an app bundle
func macOSRun(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, bundle string, opts satchel.RunOptions) error {
	exe := filepath.Join(bundle, "Contents", "MacOS", app.FormalName)
	_, err := bctx.Exec(ctx, app, satchel.Command{
		Name: exe,
		Args: opts.Args,
		Env:  launchEnv(app, opts),
		Dir:  bctx.BasePath,
	})
	return err
}

// macOSApp packages the app into a prebuilt stub app bundle
type macOSApp struct {
	base
	macOSSigner
}

func newMacOSApp() *macOSApp {
	return &macOSApp{base: base{
		platform: "macOS",
		format:   "app",
		hostOS:   []string{"darwin"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate:  {"python"},
			satchel.StagePackage: {"codesign"},
		},
	}}
}

func (m *macOSApp) Layout(app *satchel.AppConfig) satchel.Layout {
	bundle := app.FormalName + ".app"
	return satchel.Layout{
		AppPath:         filepath.Join(bundle, "Contents", "Resources", "app"),
		AppPackagesPath: filepath.Join(bundle, "Contents", "Resources", "app_packages"),
		BinaryPath:      bundle,
		ProjectPath:     filepath.Join(bundle, "Contents"),
	}
}

func (m *macOSApp) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "macOS"}
}

func (m *macOSApp) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"MinOSVersion": minOSVersion(app),
	}
}

func (m *macOSApp) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	macos := bctx.Path(bctx.Layout.BinaryPath, "Contents", "MacOS")
	return makeExecutable(filepath.Join(macos, "Stub"), filepath.Join(macos, app.FormalName))
}

func (m *macOSApp) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	return macOSRun(ctx, bctx, app, bctx.Path(bctx.Layout.BinaryPath), opts)
}

func (m *macOSApp) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	return macOSPackage(ctx, bctx, app)
}

// macOSXcode produces an Xcode project that is compiled with xcodebuild
type macOSXcode struct {
	base
	macOSSigner
}

func newMacOSXcode() *macOSXcode {
	return &macOSXcode{base: base{
		platform: "macOS",
		format:   "xcode",
		hostOS:   []string{"darwin"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate:  {"python"},
			satchel.StageBuild:   {"xcode"},
			satchel.StagePackage: {"codesign"},
		},
	}}
}

func (m *macOSXcode) Layout(app *satchel.AppConfig) satchel.Layout {
	return satchel.Layout{
		AppPath:         filepath.Join(app.FormalName, "app"),
		AppPackagesPath: filepath.Join(app.FormalName, "app_packages"),
		BinaryPath:      filepath.Join("build", "Build", "Products", "Release", app.FormalName+".app"),
		ProjectPath:     app.FormalName + ".xcodeproj",
	}
}

func (m *macOSXcode) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{Name: "macOS"}
}

func (m *macOSXcode) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"MinOSVersion": minOSVersion(app),
	}
}

func (m *macOSXcode) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	xcode, err := bctx.Tool(ctx, "xcode", app)
	if err != nil {
		return err
	}
	return bctx.Run(ctx, app, "", xcode.Path,
		"build",
		"-project", bctx.Path(bctx.Layout.ProjectPath),
		"-configuration", "Release",
		"-derivedDataPath", bctx.Path("build"),
		"-quiet",
	)
}

func (m *macOSXcode) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	return macOSRun(ctx, bctx, app, bctx.Path(bctx.Layout.BinaryPath), opts)
}

func (m *macOSXcode) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	return macOSPackage(ctx, bctx, app)
}

func minOSVersion(app *satchel.AppConfig) string {
	if v := app.String("min_os_version"); v != "" {
		return v
	}
	return "11.0"
}
