package platforms

import (
	"archive/zip"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

type fakeTools struct{}

func (fakeTools) Require(ctx context.Context, name string, app *satchel.AppConfig) (*satchel.ToolHandle, error) {
	return &satchel.ToolHandle{Name: name, Path: "/opt/" + name, Home: "/opt/" + name + "-home"}, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	Commands []satchel.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd satchel.Command) (*satchel.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, cmd)
	return &satchel.Result{}, nil
}

func testApp(platform, format string) *satchel.AppConfig {
	return &satchel.AppConfig{
		AppName:     "helloworld",
		FormalName:  "Hello World",
		Bundle:      "com.example",
		Version:     "1.2.3",
		Description: "A test app",
		Author:      "Jane Developer",
		AuthorEmail: "jane@example.com",
		Platform:    platform,
		Format:      format,
		Settings:    map[string]interface{}{},
	}
}

func testBuildContext(t *testing.T, b satchel.Backend, app *satchel.AppConfig) (*satchel.BuildContext, *fakeRunner) {
	t.Helper()
	base := t.TempDir()
	runner := &fakeRunner{}
	return &satchel.BuildContext{
		BasePath:   base,
		BundlePath: filepath.Join(base, "build", app.AppName, b.Platform(), b.Format()),
		Layout:     b.Layout(app),
		Tools:      fakeTools{},
		Runner:     runner,
		Reporter:   satchel.NoopReporter{},
	}, runner
}

func TestRegister(t *testing.T) {
	reg := satchel.NewRegistry()
	require.NoError(t, Register(reg))

	expectation := map[string][]string{
		"android": {"gradle"},
		"iOS":     {"xcode"},
		"linux":   {"appimage", "flatpak", "system"},
		"macOS":   {"app", "xcode"},
		"web":     {"static"},
		"windows": {"app", "visualstudio"},
	}
	act := make(map[string][]string)
	for _, p := range reg.Platforms() {
		act[p] = reg.Formats(p)
	}
	if diff := cmp.Diff(expectation, act); diff != "" {
		t.Errorf("Register() mismatch (-want +got):\n%s", diff)
	}

	defaults := map[string]string{
		"android": "gradle",
		"iOS":     "xcode",
		"linux":   "system",
		"macOS":   "app",
		"web":     "static",
		"windows": "app",
	}
	for p, f := range defaults {
		assert.Equal(t, f, reg.DefaultFormat(p), "default format of %s", p)
	}

	require.Error(t, Register(reg), "registering twice must fail")
}

func TestHostRestrictions(t *testing.T) {
	tests := []struct {
		HostOS    string
		Platform  string
		ExpectErr bool
	}{
		{HostOS: "linux", Platform: "macOS", ExpectErr: true},
		{HostOS: "darwin", Platform: "macOS"},
		{HostOS: "linux", Platform: "iOS", ExpectErr: true},
		{HostOS: "windows", Platform: "linux", ExpectErr: true},
		{HostOS: "linux", Platform: "android"},
		{HostOS: "windows", Platform: "android"},
		{HostOS: "darwin", Platform: "web"},
		{HostOS: "darwin", Platform: "windows", ExpectErr: true},
	}
	for _, test := range tests {
		t.Run(test.HostOS+"/"+test.Platform, func(t *testing.T) {
			reg := satchel.NewRegistry()
			reg.HostOS = test.HostOS
			require.NoError(t, Register(reg))

			_, err := reg.Resolve(test.Platform, "")
			if !test.ExpectErr {
				require.NoError(t, err)
				return
			}
			var hostErr *satchel.HostPlatformUnsupportedError
			require.ErrorAs(t, err, &hostErr)
		})
	}
}

func TestCrossCompiledTargets(t *testing.T) {
	tests := []struct {
		Backend       satchel.Backend
		CrossCompiled bool
		Indexes       []string
	}{
		{Backend: newMacOSApp()},
		{Backend: newLinuxSystem()},
		{Backend: newWindowsApp()},
		{Backend: newIOSXcode(), CrossCompiled: true, Indexes: []string{iosPackageIndex}},
		{Backend: newAndroidGradle(), CrossCompiled: true, Indexes: []string{androidPackageIndex}},
		{Backend: newWebStatic(), CrossCompiled: true},
	}
	for _, test := range tests {
		t.Run(test.Backend.Platform()+"/"+test.Backend.Format(), func(t *testing.T) {
			tp := test.Backend.TargetPlatform(testApp(test.Backend.Platform(), test.Backend.Format()))
			assert.Equal(t, test.CrossCompiled, tp.CrossCompiled)
			assert.Equal(t, test.Indexes, tp.Indexes)
			if tp.CrossCompiled {
				assert.NotEmpty(t, tp.WheelTags)
			}
		})
	}
}

func TestTemplate(t *testing.T) {
	ref := newLinuxAppImage().Template(testApp("linux", "appimage"))
	require.Equal(t, satchel.TemplateRef{URL: TemplateRepository, Branch: "linux-appimage"}, ref)
}

func TestLayoutsStayInsideBundle(t *testing.T) {
	reg := satchel.NewRegistry()
	require.NoError(t, Register(reg))

	for _, p := range reg.Platforms() {
		for _, f := range reg.Formats(p) {
			b, err := resolveAny(reg, p, f)
			require.NoError(t, err)

			l := b.Layout(testApp(p, f))
			for _, rel := range []string{l.AppPath, l.AppPackagesPath, l.BinaryPath, l.ProjectPath} {
				assert.NotEmpty(t, rel, "%s/%s", p, f)
				assert.False(t, filepath.IsAbs(rel), "%s/%s: %s", p, f, rel)
				assert.False(t, strings.HasPrefix(rel, ".."), "%s/%s: %s", p, f, rel)
			}
			assert.NotEqual(t, l.AppPath, l.AppPackagesPath)
		}
	}
}

// resolveAny resolves a backend regardless of the host it would run on
func resolveAny(reg *satchel.Registry, platform, format string) (satchel.Backend, error) {
	for _, host := range []string{"linux", "darwin", "windows"} {
		reg.HostOS = host
		if b, err := reg.Resolve(platform, format); err == nil {
			return b, nil
		}
	}
	reg.HostOS = "linux"
	return reg.Resolve(platform, format)
}

func TestPackagingFormat(t *testing.T) {
	app := testApp("macOS", "app")
	f, err := packagingFormat(app, "dmg", "dmg", "zip")
	require.NoError(t, err)
	require.Equal(t, "dmg", f)

	app.Settings["packaging_format"] = "zip"
	f, err = packagingFormat(app, "dmg", "dmg", "zip")
	require.NoError(t, err)
	require.Equal(t, "zip", f)

	app.Settings["packaging_format"] = "pkg"
	_, err = packagingFormat(app, "dmg", "dmg", "zip")
	require.Error(t, err)
	require.Equal(t, satchel.ClassConfig, satchel.Classify(err))
}

func TestLaunchEnv(t *testing.T) {
	app := testApp("linux", "system")
	app.AppName = "hello-world"

	require.Equal(t, []string{"SATCHEL_MAIN_MODULE=hello_world"}, launchEnv(app, satchel.RunOptions{}))
	require.Equal(t,
		[]string{"SATCHEL_MAIN_MODULE=tests.hello_world", "SATCHEL_DEBUGGER={}"},
		launchEnv(app, satchel.RunOptions{TestMode: true, Env: []string{"SATCHEL_DEBUGGER={}"}}),
	)
}

func TestVersionCode(t *testing.T) {
	tests := map[string]string{
		"1.2.3":    "1020300",
		"0.3":      "30000",
		"2":        "2000000",
		"1.12.0a1": "1120000",
	}
	for version, expectation := range tests {
		t.Run(version, func(t *testing.T) {
			require.Equal(t, expectation, versionCode(version))
		})
	}
}

func TestWindowsTemplateContext(t *testing.T) {
	tests := []struct {
		Version     string
		Expectation string
	}{
		{Version: "1.2.3", Expectation: "1.2.3"},
		{Version: "1.2", Expectation: "1.2.0"},
		{Version: "1.2.3.4", Expectation: "1.2.3"},
		{Version: "1.0rc1", Expectation: "1.0"},
	}
	for _, test := range tests {
		t.Run(test.Version, func(t *testing.T) {
			app := testApp("windows", "app")
			app.Version = test.Version
			require.Equal(t, test.Expectation, windowsTemplateContext(app)["VersionTriple"])
		})
	}
}

func TestLinuxSystemBuild(t *testing.T) {
	b := newLinuxSystem()
	app := testApp("linux", "system")
	bctx, _ := testBuildContext(t, b, app)

	require.NoError(t, b.Build(context.Background(), bctx, app))

	launcher := bctx.Path(bctx.Layout.BinaryPath)
	fc, err := os.ReadFile(launcher)
	require.NoError(t, err)
	assert.Contains(t, string(fc), `/lib/helloworld"`)
	assert.Contains(t, string(fc), `${SATCHEL_MAIN_MODULE:-helloworld}`)
	require.Equal(t, filepath.Join("helloworld-1.2.3", "usr", "bin", "helloworld"), bctx.Layout.BinaryPath)
}

func TestLinuxSystemPackageDeb(t *testing.T) {
	b := newLinuxSystem()
	app := testApp("linux", "system")
	app.Settings["system_runtime_requires"] = []interface{}{"libgtk-3-0"}
	bctx, runner := testBuildContext(t, b, app)
	require.NoError(t, os.MkdirAll(bctx.DistPath(), 0755))

	artifact, err := b.Package(context.Background(), bctx, app)
	require.NoError(t, err)
	require.Equal(t, bctx.DistPath(), filepath.Dir(artifact.Path))
	require.True(t, strings.HasPrefix(filepath.Base(artifact.Path), "helloworld_1.2.3-1_"))

	control, err := os.ReadFile(bctx.Path(bctx.Layout.ProjectPath, "DEBIAN", "control"))
	require.NoError(t, err)
	assert.Contains(t, string(control), "Package: helloworld\n")
	assert.Contains(t, string(control), "Depends: python3, libgtk-3-0\n")

	require.Len(t, runner.Commands, 1)
	require.Equal(t, "/opt/dpkg-deb", runner.Commands[0].Name)
	require.Equal(t, []string{"--build", "--root-owner-group", bctx.Path(bctx.Layout.ProjectPath), artifact.Path}, runner.Commands[0].Args)
}

func TestLinuxSystemPackageTarGz(t *testing.T) {
	b := newLinuxSystem()
	app := testApp("linux", "system")
	app.Settings["packaging_format"] = "tar.gz"
	bctx, _ := testBuildContext(t, b, app)
	require.NoError(t, os.MkdirAll(bctx.DistPath(), 0755))
	require.NoError(t, b.Build(context.Background(), bctx, app))

	artifact, err := b.Package(context.Background(), bctx, app)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(bctx.DistPath(), "helloworld-1.2.3.tar.gz"), artifact.Path)

	stat, err := os.Stat(artifact.Path)
	require.NoError(t, err)
	require.NotZero(t, stat.Size())
}

func TestMacOSSign(t *testing.T) {
	tests := []struct {
		Name        string
		Identity    string
		Artifact    string
		Expectation func(bundle string) [][]string
	}{
		{
			Name:     "ad-hoc dmg",
			Artifact: "/dist/app.dmg",
			Expectation: func(bundle string) [][]string {
				return [][]string{
					{"--sign", "-", "--force", "--deep", bundle},
					{"--sign", "-", "--force", "/dist/app.dmg"},
				}
			},
		},
		{
			Name:     "identity dmg",
			Identity: "Developer ID Application: Jane",
			Artifact: "/dist/app.dmg",
			Expectation: func(bundle string) [][]string {
				return [][]string{
					{"--sign", "Developer ID Application: Jane", "--timestamp", "--force", "--deep", "--options", "runtime", bundle},
					{"--sign", "Developer ID Application: Jane", "--timestamp", "--force", "/dist/app.dmg"},
				}
			},
		},
		{
			Name:     "zip signs the bundle only",
			Artifact: "/dist/app.app.zip",
			Expectation: func(bundle string) [][]string {
				return [][]string{{"--sign", "-", "--force", "--deep", bundle}}
			},
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			b := newMacOSApp()
			app := testApp("macOS", "app")
			bctx, runner := testBuildContext(t, b, app)
			ctx := context.Background()

			require.NoError(t, b.SignBundle(ctx, bctx, app, test.Identity))
			require.NoError(t, b.SignArtifact(ctx, bctx, app, &satchel.Artifact{Path: test.Artifact}, test.Identity))

			var act [][]string
			for _, c := range runner.Commands {
				require.Equal(t, "/opt/codesign", c.Name)
				act = append(act, c.Args)
			}
			bundle := bctx.Path("Hello World.app")
			if diff := cmp.Diff(test.Expectation(bundle), act); diff != "" {
				t.Errorf("codesign arguments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMacOSSignEntitlements(t *testing.T) {
	b := newMacOSXcode()
	app := testApp("macOS", "xcode")
	app.Settings["entitlements_path"] = "Entitlements.plist"
	bctx, runner := testBuildContext(t, b, app)

	require.NoError(t, b.SignBundle(context.Background(), bctx, app, ""))
	require.Len(t, runner.Commands, 1)
	args := runner.Commands[0].Args
	assert.Equal(t, bctx.Path(b.Layout(app).BinaryPath), args[len(args)-1])
	assert.Contains(t, args, bctx.Path("Entitlements.plist"))
}

func TestMacOSPackageZip(t *testing.T) {
	b := newMacOSApp()
	app := testApp("macOS", "app")
	app.Settings["packaging_format"] = "zip"
	bctx, runner := testBuildContext(t, b, app)
	require.NoError(t, os.MkdirAll(bctx.DistPath(), 0755))

	macos := bctx.Path(bctx.Layout.BinaryPath, "Contents", "MacOS")
	require.NoError(t, os.MkdirAll(macos, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(macos, "Stub"), []byte("#!/bin/sh\n"), 0644))
	require.NoError(t, b.Build(context.Background(), bctx, app))
	_, err := os.Stat(filepath.Join(macos, "Hello World"))
	require.NoError(t, err)

	artifact, err := b.Package(context.Background(), bctx, app)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(bctx.DistPath(), "Hello World-1.2.3.app.zip"), artifact.Path)
	require.Empty(t, runner.Commands)

	zr, err := zip.OpenReader(artifact.Path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.Contains(t, names, "Hello World.app/Contents/MacOS/Hello World")
}

func TestWebBuild(t *testing.T) {
	b := newWebStatic()
	app := testApp("web", "static")
	app.Settings["web_packages"] = []interface{}{"numpy"}
	bctx, _ := testBuildContext(t, b, app)

	appDir := bctx.Path(bctx.Layout.AppPath, "helloworld")
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "__pycache__"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "__main__.py"), []byte("print('hi')\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "__pycache__", "x.pyc"), []byte{}, 0644))

	require.NoError(t, b.Build(context.Background(), bctx, app))

	fc, err := os.ReadFile(bctx.Path("www", "pyscript.toml"))
	require.NoError(t, err)
	var cfg pyscriptConfig
	require.NoError(t, toml.Unmarshal(fc, &cfg))

	expectation := pyscriptConfig{
		Name:     "Hello World",
		Version:  "1.2.3",
		Packages: []string{"numpy"},
		Files:    map[string]string{"./app/helloworld/__main__.py": "helloworld/__main__.py"},
		Main:     "helloworld",
	}
	if diff := cmp.Diff(expectation, cfg); diff != "" {
		t.Errorf("pyscript.toml mismatch (-want +got):\n%s", diff)
	}
}

func TestWebRun(t *testing.T) {
	b := newWebStatic()
	app := testApp("web", "static")
	bctx, _ := testBuildContext(t, b, app)
	require.NoError(t, os.MkdirAll(bctx.Path("www"), 0755))
	require.NoError(t, os.WriteFile(bctx.Path("www", "index.html"), []byte("<html>hello</html>"), 0644))

	addr := make(chan string, 1)
	b.listen = func(network, address string) (net.Listener, error) {
		l, err := net.Listen(network, "127.0.0.1:0")
		if err == nil {
			addr <- l.Addr().String()
		}
		return l, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, bctx, app, satchel.RunOptions{})
	}()

	var url string
	select {
	case a := <-addr:
		url = "http://" + a + "/index.html"
	case err := <-done:
		t.Fatalf("server stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "<html>hello</html>", string(body))
	require.Equal(t, "no-store, must-revalidate", resp.Header.Get("Cache-Control"))

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWebRunInvalidPort(t *testing.T) {
	b := newWebStatic()
	app := testApp("web", "static")
	app.Settings["port"] = "eighty"
	bctx, _ := testBuildContext(t, b, app)

	err := b.Run(context.Background(), bctx, app, satchel.RunOptions{})
	require.Equal(t, satchel.ClassConfig, satchel.Classify(err))
}

func TestAndroidPackage(t *testing.T) {
	b := newAndroidGradle()
	app := testApp("android", "gradle")
	bctx, runner := testBuildContext(t, b, app)
	require.NoError(t, os.MkdirAll(bctx.DistPath(), 0755))

	out := bctx.Path("app", "build", "outputs", "bundle", "release", "app-release.aab")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0755))
	require.NoError(t, os.WriteFile(out, []byte("aab"), 0644))
	require.NoError(t, os.WriteFile(bctx.Path("gradlew"), []byte("#!/bin/sh\n"), 0644))

	artifact, err := b.Package(context.Background(), bctx, app)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(bctx.DistPath(), "Hello World-1.2.3.aab"), artifact.Path)

	require.Len(t, runner.Commands, 1)
	cmd := runner.Commands[0]
	require.Equal(t, []string{"bundleRelease", "--console", "plain"}, cmd.Args)
	require.Contains(t, cmd.Env, "ANDROID_HOME=/opt/android_sdk-home")
	require.Contains(t, cmd.Env, "JAVA_HOME=/")
}
