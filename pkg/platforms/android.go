package platforms

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

const (
	androidPackageIndex = "https://chaquo.com/pypi-13.1"
	androidMinSDK       = "24"
	androidMainActivity = "org.beeware.android.MainActivity"
)

// androidGradle produces a Gradle project that embeds Python through Chaquopy
type androidGradle struct {
	base
}

func newAndroidGradle() *androidGradle {
	return &androidGradle{base: base{
		platform: "android",
		format:   "gradle",
		tools: map[satchel.Stage][]string{
			satchel.StageUpdate:  {"python"},
			satchel.StageBuild:   {"java", "android_sdk"},
			satchel.StageRun:     {"android_sdk"},
			satchel.StagePackage: {"java", "android_sdk"},
		},
	}}
}

func (a *androidGradle) Layout(app *satchel.AppConfig) satchel.Layout {
	main := filepath.Join("app", "src", "main")
	return satchel.Layout{
		AppPath:         filepath.Join(main, "python"),
		AppPackagesPath: filepath.Join(main, "python-packages"),
		BinaryPath:      filepath.Join("app", "build", "outputs", "apk", "debug", "app-debug.apk"),
		ProjectPath:     ".",
	}
}

func (a *androidGradle) TargetPlatform(app *satchel.AppConfig) satchel.TargetPlatform {
	return satchel.TargetPlatform{
		Name:          "android",
		CrossCompiled: true,
		WheelTags:     []string{"android_*_arm64_v8a", "android_*_armeabi_v7a", "android_*_x86_64", "android_*_x86"},
		Indexes:       []string{androidPackageIndex},
		PipArgs:       []string{"--platform", "android_" + androidMinSDK + "_arm64_v8a"},
	}
}

func (a *androidGradle) TemplateContext(app *satchel.AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"PackageName":  app.BundleID(),
		"VersionCode":  versionCode(app.Version),
		"MinSDK":       androidMinSDK,
		"MainActivity": androidMainActivity,
	}
}

func (a *androidGradle) gradle(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, tasks ...string) error {
	java, err := bctx.Tool(ctx, "java", app)
	if err != nil {
		return err
	}
	sdk, err := bctx.Tool(ctx, "android_sdk", app)
	if err != nil {
		return err
	}

	gradlew := bctx.Path("gradlew")
	if runtime.GOOS == "windows" {
		gradlew = bctx.Path("gradlew.bat")
	} else if err := makeExecutable(gradlew, gradlew); err != nil {
		return err
	}

	_, err = bctx.Exec(ctx, app, satchel.Command{
		Name: gradlew,
		Args: append(tasks, "--console", "plain"),
		Env: []string{
			"JAVA_HOME=" + javaHome(java),
			"ANDROID_HOME=" + sdk.Home,
			"ANDROID_SDK_ROOT=" + sdk.Home,
		},
	})
	return err
}

func (a *androidGradle) Build(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) error {
	return a.gradle(ctx, bctx, app, "assembleDebug")
}

func (a *androidGradle) Run(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig, opts satchel.RunOptions) error {
	sdk, err := bctx.Tool(ctx, "android_sdk", app)
	if err != nil {
		return err
	}
	adb := filepath.Join(sdk.Home, "platform-tools", exe("adb"))

	var device []string
	if d := app.String("device"); d != "" {
		device = []string{"-s", d}
	}

	err = bctx.Run(ctx, app, "", adb, append(device, "install", "-r", bctx.Path(bctx.Layout.BinaryPath))...)
	if err != nil {
		return err
	}

	args := append(device, "shell", "am", "start", "-n", app.BundleID()+"/"+androidMainActivity, "-a", "android.intent.action.MAIN")
	for _, env := range launchEnv(app, opts) {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) == 2 {
			args = append(args, "--es", kv[0], kv[1])
		}
	}
	if len(opts.Args) > 0 {
		args = append(args, "--es", "org.beeware.ARGV", strings.Join(opts.Args, " "))
	}
	err = bctx.Run(ctx, app, "", adb, args...)
	if err != nil {
		return err
	}

	_, err = bctx.Exec(ctx, app, satchel.Command{Name: adb, Args: append(device, "logcat", "-s", "MainActivity:*", "stdio:*", "python.stdout:*", "AndroidRuntime:*")})
	return err
}

func (a *androidGradle) Package(ctx context.Context, bctx *satchel.BuildContext, app *satchel.AppConfig) (*satchel.Artifact, error) {
	format, err := packagingFormat(app, "aab", "aab", "apk", "debug-apk")
	if err != nil {
		return nil, err
	}

	var task, output string
	switch format {
	case "apk":
		task, output = "assembleRelease", filepath.Join("apk", "release", "app-release-unsigned.apk")
	case "debug-apk":
		task, output = "assembleDebug", filepath.Join("apk", "debug", "app-debug.apk")
	default:
		task, output = "bundleRelease", filepath.Join("bundle", "release", "app-release.aab")
	}
	err = a.gradle(ctx, bctx, app, task)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(output)
	dst, err := distFile(bctx, fmt.Sprintf("%s-%s%s", app.FormalName, app.Version, ext))
	if err != nil {
		return nil, err
	}
	err = satchel.CopyTree(bctx.Path("app", "build", "outputs", output), dst)
	if err != nil {
		return nil, err
	}
	return &satchel.Artifact{Path: dst}, nil
}

// versionCode derives Android's integer version code from a version like 1.2.3
func versionCode(version string) string {
	segs := strings.SplitN(version, ".", 4)
	parts := make([]int, 3)
	for i := 0; i < 3 && i < len(segs); i++ {
		fmt.Sscanf(segs[i], "%d", &parts[i])
	}
	return strconv.Itoa(parts[0]*1000000 + parts[1]*10000 + parts[2]*100)
}

// javaHome derives JAVA_HOME from <home>/bin/java
func javaHome(java *satchel.ToolHandle) string {
	return filepath.Dir(filepath.Dir(java.Path))
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func underscored(version string) string {
	return strings.ReplaceAll(version, ".", "_")
}
