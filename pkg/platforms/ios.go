package platforms

import (
	"context"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

const (
	iosPackageIndex    = "https://pypi.anaconda.org/beeware/simple"
	iosDefaultDevice   = "iPhone 15"
	iosMinOSVersion    = "13.0"
	iosSimulatorSDK    = "iphonesimulator"
	iosSimulatorConfig = "Debug"
)

// iOSXcode produces an Xcode project for iOS and runs it in the simulator
type iOSXcode struct {
	base
}

func newIOSXcode() *iOSXcode {
	return &iOSXcode{base: base{
		platform: "iOS",
		format:   "xcode",
		hostOS:   []string{"darwin"},
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate: {"python"},
			satchel.StageBuild:  {"xcode"},
			satchel.StageRun:    {"xcode"},
		},
	}}
}

func (i *iOSXcode) Layout(app *satchel.AppConfig) satchel.Layout {
	return satchel.Layout{
		AppPath:         filepath.Join(app.FormalName, "app"),
		AppPackagesPath: filepath.Join(app.FormalName, "app_packages"),
		BinaryPath:      filepath.Join("build", "Build", "Products", iosSimulatorConfig+"-"+iosSimulatorSDK, app.FormalName+".app"),
		ProjectPath:     app.FormalName + ".xcodeproj",
	}
}

func (i *iOSXcode) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	version := minIOSVersion(app)
	tag := fmt.Sprintf("ios_%s", underscored(version))
	return satchel.TargetPlatform{
		Name:          "iOS",
		CrossCompiled: true,
		WheelTags:     []string{"ios_*_arm64_iphoneos", "ios_*_arm64_iphonesimulator", "ios_*_x86_64_iphonesimulator"},
		Indexes:       []string{iosPackageIndex},
		PipArgs:       []string{"--platform", tag + "_arm64_iphonesimulator", "--prefer-binary"},
	}
}

func (i *iOSXcode) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"MinOSVersion": minIOSVersion(app),
		"DeviceFamily": app.String("device_family"),
	}
}

func (i *iOSXcode) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	xcode, err := bctx.Tool(ctx, "xcode", app)
	if err != nil {
		return err
	}
	return bctx.Run(ctx, app, "", xcode.Path,
		"build",
		"-project", bctx.Path(bctx.Layout.ProjectPath),
		"-configuration", iosSimulatorConfig,
		"-sdk", iosSimulatorSDK,
		"-derivedDataPath", bctx.Path("build"),
		"-quiet",
	)
}

func (i *iOSXcode) device(app *satchel.AppConfig) string {
	if d := app.String("device"); d != "" {
		return d
	}
	return iosDefaultDevice
}

func (i *iOSXcode) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	device := i.device(app)

	// booting an already booted simulator fails, which is fine
	_, err := bctx.Runner.Run(ctx, satchel.Command{Name: "xcrun", Args: []string{"simctl", "boot", device}})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithField("device", device).Debug("cannot boot simulator")
	}

	err = bctx.Run(ctx, app, "", "xcrun", "simctl", "install", device, bctx.Path(bctx.Layout.BinaryPath))
	if err != nil {
		return err
	}

	args := []string{"simctl", "launch", "--console-pty", "--terminate-running-process", device, app.BundleID()}
	args = append(args, opts.Args...)
	env := make([]string, 0, len(opts.Env)+1)
	for _, e := range launchEnv(app, opts) {
		env = append(env, "SIMCTL_CHILD_"+e)
	}
	_, err = bctx.Exec(ctx, app, satchel.Command{Name: "xcrun", Args: args, Env: env, Dir: bctx.BasePath})
	return err
}

func (i *iOSXcode) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	xcode, err := bctx.Tool(ctx, "xcode", app)
	if err != nil {
		return nil, err
	}
	dst, err := distFile(bctx, fmt.Sprintf("%s-%s.xcarchive", app.FormalName, app.Version))
	if err != nil {
		return nil, err
	}
	err = bctx.Run(ctx, app, "", xcode.Path,
		"archive",
		"-project", bctx.Path(bctx.Layout.ProjectPath),
		"-scheme", app.FormalName,
		"-configuration", "Release",
		"-destination", "generic/platform=iOS",
		"-archivePath", dst,
		"-quiet",
	)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}

func minIOSVersion(app *satchel.AppConfig) string {
	if v := app.String("min_os_version"); v != "" {
		return v
	}
	return iosMinOSVersion
}
