package satchel

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	reg := NewRegistry()
	reg.HostOS = "linux"
	for _, pf := range [][2]string{
		{"macOS", "app"},
		{"macOS", "xcode"},
		{"linux", "system"},
		{"linux", "flatpak"},
		{"web", "static"},
	} {
		if err := reg.Register(pf[0], pf[1], newTestBackend(pf[0], pf[1])); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

const layeredManifest = `
[project]
name = "helloworld"
version = "0.1.0"
dependencies = ["requests>=2"]
authors = [{ name = "Jane Developer", email = "jane@example.com" }]

[project.urls]
Homepage = "https://example.com/helloworld"

[tool.satchel]
project_name = "Hello World"
bundle = "com.example"
sources = ["src/shared"]
requires = ["attrs"]
icon = "icons/global"

[tool.satchel.app.helloworld]
formal_name = "Hello World"
description = """A friendly greeter.
With more text on the second line."""
sources = ["src/helloworld"]
requires = ["rich"]
test_requires = ["pytest"]

[tool.satchel.app.helloworld.macOS]
requires = ["rubicon-objc"]
icon = "icons/mac"
universal_build = true

[tool.satchel.app.helloworld.macOS.app]
requires = ["std-nslog"]
sources = ["src/macos_extras"]

[tool.satchel.app.helloworld.macOS.xcode]
requires = ["xcode-only"]

[tool.satchel.app.helloworld.linux]
requires = ["toga-gtk"]

[tool.satchel.app.helloworld.linux.flatpak]
flatpak_runtime = "org.gnome.Platform"

[tool.satchel.app.helloworld.publish.s3]
bucket = "releases"
`

func TestResolveLayers(t *testing.T) {
	prj, err := parse([]byte(layeredManifest), "/workspace", testRegistry(t))
	require.NoError(t, err)

	type expectation struct {
		Sources  []string
		Requires []string
		Icon     string
		Version  string
		Format   string
		Settings map[string]interface{}
	}
	tests := []struct {
		Name        string
		Platform    string
		Format      string
		Expectation expectation
	}{
		{
			Name: "platform agnostic",
			Expectation: expectation{
				Sources:  []string{"src/shared", "src/helloworld"},
				Requires: []string{"requests>=2", "attrs", "rich"},
				Icon:     "icons/global",
				Version:  "0.1.0",
			},
		},
		{
			Name:     "default format",
			Platform: "macOS",
			Expectation: expectation{
				Sources:  []string{"src/shared", "src/helloworld", "src/macos_extras"},
				Requires: []string{"requests>=2", "attrs", "rich", "rubicon-objc", "std-nslog"},
				Icon:     "icons/mac",
				Version:  "0.1.0",
				Format:   "app",
				Settings: map[string]interface{}{"universal_build": true},
			},
		},
		{
			Name:     "explicit format",
			Platform: "macOS",
			Format:   "xcode",
			Expectation: expectation{
				Sources:  []string{"src/shared", "src/helloworld"},
				Requires: []string{"requests>=2", "attrs", "rich", "rubicon-objc", "xcode-only"},
				Icon:     "icons/mac",
				Version:  "0.1.0",
				Format:   "xcode",
				Settings: map[string]interface{}{"universal_build": true},
			},
		},
		{
			Name:     "platform without format layer",
			Platform: "linux",
			Format:   "system",
			Expectation: expectation{
				Sources:  []string{"src/shared", "src/helloworld"},
				Requires: []string{"requests>=2", "attrs", "rich", "toga-gtk"},
				Icon:     "icons/global",
				Version:  "0.1.0",
				Format:   "system",
			},
		},
		{
			Name:     "platform without any layer",
			Platform: "web",
			Expectation: expectation{
				Sources:  []string{"src/shared", "src/helloworld"},
				Requires: []string{"requests>=2", "attrs", "rich"},
				Icon:     "icons/global",
				Version:  "0.1.0",
				Format:   "static",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			apps, err := prj.Resolve(test.Platform, test.Format)
			require.NoError(t, err)
			app := apps["helloworld"]
			require.NotNil(t, app)

			act := expectation{
				Sources:  app.Sources,
				Requires: app.Requires,
				Icon:     app.Icon,
				Version:  app.Version,
				Format:   app.Format,
			}
			for k := range test.Expectation.Settings {
				if act.Settings == nil {
					act.Settings = make(map[string]interface{})
				}
				act.Settings[k] = app.Settings[k]
			}
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

const demoManifest = `
[tool.satchel]
project_name = "Demo"
bundle = "com.example"
version = "1.0"
requires = ["pkg-a"]

[tool.satchel.app.demo]
formal_name = "Demo"
description = "A demo"
sources = ["src/demo"]

[tool.satchel.app.demo.macOS]
version = "2.0"
requires = ["pkg-b"]
`

func TestResolvePlatformLayer(t *testing.T) {
	prj, err := parse([]byte(demoManifest), "/workspace", testRegistry(t))
	require.NoError(t, err)

	tests := []struct {
		Platform string
		Requires []string
		Version  string
	}{
		{Platform: "macOS", Requires: []string{"pkg-a", "pkg-b"}, Version: "2.0"},
		{Platform: "linux", Requires: []string{"pkg-a"}, Version: "1.0"},
	}
	for _, test := range tests {
		t.Run(test.Platform, func(t *testing.T) {
			apps, err := prj.Resolve(test.Platform, "")
			require.NoError(t, err)
			app := apps["demo"]
			require.NotNil(t, app)
			assert.Equal(t, test.Requires, app.Requires)
			assert.Equal(t, test.Version, app.Version)
			assert.Equal(t, []string{"src/demo"}, app.Sources)
		})
	}
}

func TestResolveMetadata(t *testing.T) {
	prj, err := parse([]byte(layeredManifest), "/workspace", testRegistry(t))
	require.NoError(t, err)

	if diff := cmp.Diff(ProjectConfig{
		ProjectName: "Hello World",
		Bundle:      "com.example",
		Version:     "0.1.0",
		URL:         "https://example.com/helloworld",
		Author:      "Jane Developer",
		AuthorEmail: "jane@example.com",
	}, prj.Config); diff != "" {
		t.Errorf("project config mismatch (-want +got):\n%s", diff)
	}

	apps, err := prj.Resolve("linux", "flatpak")
	require.NoError(t, err)
	app := apps["helloworld"]
	assert.Equal(t, "A friendly greeter.", app.Description)
	assert.Equal(t, "com.example.helloworld", app.BundleID())
	assert.Equal(t, "helloworld", app.ModuleName())
	assert.Equal(t, "HelloWorld", app.ClassName())
	assert.Equal(t, []string{"pytest"}, app.TestRequires)
	assert.Equal(t, "org.gnome.Platform", app.String("flatpak_runtime"))
	assert.Equal(t, "releases", app.Publish["s3"]["bucket"])
	assert.Contains(t, app.PlatformSettings, "flatpak")
}

func TestResolveDoesNotModifyLayers(t *testing.T) {
	prj, err := parse([]byte(layeredManifest), "/workspace", testRegistry(t))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		apps, err := prj.Resolve("macOS", "app")
		require.NoError(t, err)
		assert.Equal(t, []string{"requests>=2", "attrs", "rich", "rubicon-objc", "std-nslog"}, apps["helloworld"].Requires)
	}
}

func TestParseErrors(t *testing.T) {
	const header = `
[tool.satchel]
project_name = "Hello"
bundle = "com.example"
version = "1.0.0"
`
	tests := []struct {
		Name     string
		Manifest string
		Err      string
	}{
		{
			Name:     "invalid toml",
			Manifest: "[tool.satchel",
			Err:      "invalid pyproject.toml",
		},
		{
			Name:     "no tool section",
			Manifest: "[project]\nname = \"x\"\n",
			Err:      "does not contain a [tool.satchel] section",
		},
		{
			Name:     "no apps",
			Manifest: header,
			Err:      "no apps defined",
		},
		{
			Name:     "missing bundle",
			Manifest: "[tool.satchel]\nproject_name = \"x\"\nversion = \"1.0\"\n[tool.satchel.app.x]\ndescription = \"d\"\nsources = [\"src/x\"]\n",
			Err:      "bundle is required",
		},
		{
			Name:     "invalid bundle",
			Manifest: strings.Replace(header, "com.example", "example", 1) + "[tool.satchel.app.hello]\ndescription = \"d\"\nsources = [\"src\"]\n",
			Err:      "not a valid bundle identifier",
		},
		{
			Name:     "non-canonical version",
			Manifest: strings.Replace(header, "1.0.0", "v1.0", 1) + "[tool.satchel.app.hello]\ndescription = \"d\"\nsources = [\"src\"]\n",
			Err:      "not a canonical PEP 440 version",
		},
		{
			Name:     "reserved app name",
			Manifest: header + "[tool.satchel.app.class]\ndescription = \"d\"\nsources = [\"src\"]\n",
			Err:      "is not a valid app name",
		},
		{
			Name:     "invalid app name",
			Manifest: header + "[tool.satchel.app.\"-hello\"]\ndescription = \"d\"\nsources = [\"src\"]\n",
			Err:      "is not a valid app name",
		},
		{
			Name:     "colliding app names",
			Manifest: header + "[tool.satchel.app.my-app]\ndescription = \"d\"\nsources = [\"src\"]\n[tool.satchel.app.my_app]\ndescription = \"d\"\nsources = [\"src\"]\n",
			Err:      "collide once normalized",
		},
		{
			Name:     "unknown platform",
			Manifest: header + "[tool.satchel.app.hello]\ndescription = \"d\"\nsources = [\"src\"]\n[tool.satchel.app.hello.amiga]\nrequires = []\n",
			Err:      `unknown platform "amiga"`,
		},
		{
			Name:     "unknown format",
			Manifest: header + "[tool.satchel.app.hello]\ndescription = \"d\"\nsources = [\"src\"]\n[tool.satchel.app.hello.linux.snap]\nrequires = []\n",
			Err:      `unknown linux format "snap"`,
		},
		{
			Name:     "missing description",
			Manifest: header + "[tool.satchel.app.hello]\nsources = [\"src\"]\n",
			Err:      "has no description",
		},
		{
			Name:     "missing sources",
			Manifest: header + "[tool.satchel.app.hello]\ndescription = \"d\"\n",
			Err:      "does not list any sources",
		},
		{
			Name:     "sources not a list",
			Manifest: header + "[tool.satchel.app.hello]\ndescription = \"d\"\nsources = \"src\"\n",
			Err:      "expected a list of strings",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			_, err := parse([]byte(test.Manifest), "/workspace", testRegistry(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.Err)

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			assert.Equal(t, ClassConfig, Classify(err))
		})
	}
}

func TestFindProject(t *testing.T) {
	root := t.TempDir()
	manifest := `
[tool.satchel]
project_name = "Hello"
bundle = "com.example"
version = "1.0.0"

[tool.satchel.app.hello]
description = "Hello"
sources = ["src/hello"]
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFile), []byte(manifest), 0644))
	nested := filepath.Join(root, "src", "hello")
	require.NoError(t, os.MkdirAll(nested, 0755))

	prj, err := FindProject(nested, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, prj.AppNames())

	origin, err := filepath.EvalSymlinks(prj.Origin)
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, expected, origin)

	_, err = FindProject(t.TempDir(), testRegistry(t))
	assert.Equal(t, ClassConfig, Classify(err))
}

func TestValidators(t *testing.T) {
	tests := []struct {
		Name  string
		Fn    func(string) bool
		Input string
		Valid bool
	}{
		{"app name", IsValidAppName, "helloworld", true},
		{"app name with dash", IsValidAppName, "hello-world", true},
		{"app name with leading digit", IsValidAppName, "1hello", true},
		{"app name reserved", IsValidAppName, "import", false},
		{"app name reserved uppercase", IsValidAppName, "None", false},
		{"app name with space", IsValidAppName, "hello world", false},
		{"app name with trailing dash", IsValidAppName, "hello-", false},
		{"bundle", IsValidBundle, "com.example", true},
		{"bundle with dash", IsValidBundle, "org.my-company.apps", true},
		{"bundle single segment", IsValidBundle, "example", false},
		{"bundle with underscore", IsValidBundle, "com.my_company", false},
		{"version", IsCanonicalVersion, "1.2.3", true},
		{"version pre-release", IsCanonicalVersion, "1.0rc1", true},
		{"version post dev", IsCanonicalVersion, "1.0.post1.dev2", true},
		{"version epoch", IsCanonicalVersion, "2!1.0", true},
		{"version leading v", IsCanonicalVersion, "v1.0", false},
		{"version leading zero", IsCanonicalVersion, "01.0", false},
		{"version non-canonical pre-release", IsCanonicalVersion, "1.0-rc.1", false},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Valid, test.Fn(test.Input), test.Input)
		})
	}

	assert.Equal(t, "my-app", NormalizeName("My_App"))
	assert.Equal(t, "my-app", NormalizeName("my.-app"))
}
