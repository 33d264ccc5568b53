package requirements

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

func TestProjectName(t *testing.T) {
	tests := []struct {
		Requirement string
		Expectation string
	}{
		{"requests", "requests"},
		{"requests>=2.0", "requests"},
		{"Pillow[webp]==10.0; python_version > '3.8'", "Pillow"},
		{"  zope.interface  ", "zope.interface"},
		{"my_pkg~=1.0", "my_pkg"},
		{"pkg @ https://example.com/pkg-1.0-py3-none-any.whl", ""},
		{"./local/pkg", ""},
		{"/abs/pkg-1.0.tar.gz", ""},
		{"dist/pkg-1.0-py3-none-any.whl", ""},
		{`C:\wheels\pkg-1.0-py3-none-any.whl`, ""},
		{"git+https://github.com/org/pkg.git", ""},
	}
	for _, test := range tests {
		t.Run(test.Requirement, func(t *testing.T) {
			assert.Equal(t, test.Expectation, ProjectName(test.Requirement))
		})
	}
}

func TestParseWheel(t *testing.T) {
	tests := []struct {
		Filename    string
		Expectation Wheel
		OK          bool
	}{
		{
			Filename:    "numpy-1.26.0-cp312-cp312-ios_13_0_arm64_iphoneos.whl",
			Expectation: Wheel{Project: "numpy", Version: "1.26.0", Python: []string{"cp312"}, ABI: []string{"cp312"}, Platforms: []string{"ios_13_0_arm64_iphoneos"}},
			OK:          true,
		},
		{
			Filename:    "https://files.example.com/six-1.16.0-py2.py3-none-any.whl",
			Expectation: Wheel{Project: "six", Version: "1.16.0", Python: []string{"py2", "py3"}, ABI: []string{"none"}, Platforms: []string{"any"}},
			OK:          true,
		},
		{
			Filename:    "pkg-1.0-1build-py3-none-macosx_11_0_arm64.macosx_11_0_x86_64.whl",
			Expectation: Wheel{Project: "pkg", Version: "1.0", Python: []string{"py3"}, ABI: []string{"none"}, Platforms: []string{"macosx_11_0_arm64", "macosx_11_0_x86_64"}},
			OK:          true,
		},
		{Filename: "pkg-1.0.tar.gz"},
		{Filename: "broken.whl"},
	}
	for _, test := range tests {
		t.Run(test.Filename, func(t *testing.T) {
			w, ok := ParseWheel(test.Filename)
			assert.Equal(t, test.OK, ok)
			if diff := cmp.Diff(test.Expectation, w); diff != "" {
				t.Errorf("ParseWheel() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tags := []string{"ios_*_arm64_iphoneos", "ios_*_arm64_iphonesimulator"}
	tests := []struct {
		Name        string
		Files       []string
		Expectation Kind
	}{
		{Name: "nothing", Expectation: KindMissing},
		{Name: "sdist only", Files: []string{"pkg-1.0.tar.gz"}, Expectation: KindSourceOnly},
		{Name: "foreign wheel", Files: []string{"pkg-1.0-cp312-cp312-manylinux_2_17_x86_64.whl"}, Expectation: KindSourceOnly},
		{Name: "matching wheel", Files: []string{"pkg-1.0.tar.gz", "pkg-1.0-cp312-cp312-ios_13_0_arm64_iphoneos.whl"}, Expectation: KindBinary},
		{Name: "pure wheel", Files: []string{"pkg-1.0-cp312-cp312-manylinux_2_17_x86_64.whl", "pkg-1.0-py3-none-any.whl"}, Expectation: KindPure},
		{Name: "unknown files", Files: []string{"pkg-1.0.exe"}, Expectation: KindMissing},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			act := Classify(test.Files, tags)
			assert.Equal(t, test.Expectation, act, "expected %s, got %s", test.Expectation, act)
		})
	}
}

type fakeIndex struct {
	Projects map[string]map[string][]string
	Err      error
	Queries  []string
}

func (f *fakeIndex) Files(ctx context.Context, index, project string) ([]string, error) {
	f.Queries = append(f.Queries, index+"#"+project)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Projects[index][NormalizeProject(project)], nil
}

type fakeRunner struct {
	Commands []satchel.Command
	Err      error
	Stderr   string
}

func (f *fakeRunner) Run(ctx context.Context, cmd satchel.Command) (*satchel.Result, error) {
	f.Commands = append(f.Commands, cmd)
	return &satchel.Result{Stderr: []byte(f.Stderr)}, f.Err
}

type fakeTools map[string]*satchel.ToolHandle

func (t fakeTools) Require(ctx context.Context, name string, app *satchel.AppConfig) (*satchel.ToolHandle, error) {
	h, ok := t[name]
	if !ok {
		return nil, &satchel.ToolNotFoundError{Tool: name}
	}
	return h, nil
}

var iosTarget = satchel.TargetPlatform{
	Name:          "iOS",
	CrossCompiled: true,
	WheelTags:     []string{"ios_*_arm64_iphoneos"},
	Indexes:       []string{"https://extra.example.com/simple"},
	PipArgs:       []string{"--platform", "ios_13_0_arm64_iphoneos"},
}

func TestInstall(t *testing.T) {
	index := &fakeIndex{Projects: map[string]map[string][]string{
		"https://primary.example.com/simple": {
			"requests": {"requests-2.31.0-py3-none-any.whl"},
			"numpy":    {"numpy-1.0.tar.gz", "numpy-1.26.0.tar.gz", "numpy-1.26.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
			"lxml":     {"lxml-5.0.tar.gz"},
		},
		"https://extra.example.com/simple": {
			"numpy": {"numpy-1.26.0-cp312-cp312-ios_13_0_arm64_iphoneos.whl"},
		},
	}}

	tests := []struct {
		Name     string
		Requires []string
		Target   satchel.TargetPlatform
		Args     []string
		Err      func(t *testing.T, err error)
	}{
		{
			Name:     "host platform",
			Requires: []string{"requests", "lxml"},
			Target:   satchel.TargetPlatform{Name: "linux"},
			Args:     []string{"-m", "pip", "install", "--disable-pip-version-check", "--upgrade", "--no-user", "--target=TARGET", "requests", "lxml"},
		},
		{
			Name:     "cross compiled",
			Requires: []string{"requests", "numpy>=1.26"},
			Target:   iosTarget,
			Args: []string{
				"-m", "pip", "install", "--disable-pip-version-check", "--upgrade", "--no-user", "--target=TARGET",
				"--only-binary=:all:", "--index-url", "https://primary.example.com/simple", "--extra-index-url", "https://extra.example.com/simple",
				"--platform", "ios_13_0_arm64_iphoneos",
				"requests", "numpy>=1.26",
			},
		},
		{
			Name:     "cross compiled direct wheel reference",
			Requires: []string{"mypkg @ file:///wheels/mypkg-1.0-py3-none-any.whl"},
			Target:   iosTarget,
			Args: []string{
				"-m", "pip", "install", "--disable-pip-version-check", "--upgrade", "--no-user", "--target=TARGET",
				"--only-binary=:all:", "--index-url", "https://primary.example.com/simple", "--extra-index-url", "https://extra.example.com/simple",
				"--platform", "ios_13_0_arm64_iphoneos",
				"mypkg @ file:///wheels/mypkg-1.0-py3-none-any.whl",
			},
		},
		{
			Name:     "source only",
			Requires: []string{"requests", "lxml"},
			Target:   iosTarget,
			Err: func(t *testing.T, err error) {
				var depErr *satchel.IncompatibleDependencyError
				require.ErrorAs(t, err, &depErr)
				assert.Equal(t, "lxml", depErr.Requirement)
				assert.Equal(t, "iOS", depErr.Platform)
			},
		},
		{
			Name:     "missing",
			Requires: []string{"doesnotexist"},
			Target:   iosTarget,
			Err: func(t *testing.T, err error) {
				var depErr *satchel.IncompatibleDependencyError
				require.ErrorAs(t, err, &depErr)
				assert.Contains(t, depErr.Reason, "not available")
			},
		},
		{
			Name:     "pinned release without wheel",
			Requires: []string{"requests", "numpy==1.0"},
			Target:   iosTarget,
			Err: func(t *testing.T, err error) {
				var depErr *satchel.IncompatibleDependencyError
				require.ErrorAs(t, err, &depErr)
				assert.Equal(t, "numpy==1.0", depErr.Requirement)
				assert.Contains(t, depErr.Reason, "no binary wheel")
			},
		},
		{
			Name:     "no matching release",
			Requires: []string{"numpy>=3"},
			Target:   iosTarget,
			Err: func(t *testing.T, err error) {
				var depErr *satchel.IncompatibleDependencyError
				require.ErrorAs(t, err, &depErr)
				assert.Contains(t, depErr.Reason, "no release matching >=3")
			},
		},
		{
			Name:     "source tree reference",
			Requires: []string{"./vendor/mypkg"},
			Target:   iosTarget,
			Err: func(t *testing.T, err error) {
				var depErr *satchel.IncompatibleDependencyError
				require.ErrorAs(t, err, &depErr)
				assert.Contains(t, depErr.Reason, "only wheels")
			},
		},
		{
			Name:     "foreign wheel reference",
			Requires: []string{"/wheels/mypkg-1.0-cp312-cp312-win_amd64.whl"},
			Target:   iosTarget,
			Err: func(t *testing.T, err error) {
				var depErr *satchel.IncompatibleDependencyError
				require.ErrorAs(t, err, &depErr)
				assert.Contains(t, depErr.Reason, "another platform")
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "app_packages")
			require.NoError(t, os.MkdirAll(target, 0755))
			require.NoError(t, os.WriteFile(filepath.Join(target, "stale.py"), nil, 0644))

			runner := &fakeRunner{}
			inst := &Installer{
				Tools:        fakeTools{"python": {Name: "python", Path: "/usr/bin/python3"}},
				Runner:       runner,
				Index:        index,
				PrimaryIndex: "https://primary.example.com/simple",
			}

			res, err := inst.Install(context.Background(), test.Requires, target, test.Target)
			if test.Err != nil {
				test.Err(t, err)
				assert.Empty(t, runner.Commands)
				assert.FileExists(t, filepath.Join(target, "stale.py"), "a rejected installation must keep the previous packages")
				assert.Equal(t, satchel.ClassConfig, satchel.Classify(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.Requires, res.Installed)
			assert.NoFileExists(t, filepath.Join(target, "stale.py"))

			require.Len(t, runner.Commands, 1)
			cmd := runner.Commands[0]
			assert.Equal(t, "/usr/bin/python3", cmd.Name)
			want := make([]string, len(test.Args))
			for i, a := range test.Args {
				if a == "--target=TARGET" {
					a = "--target=" + target
				}
				want[i] = a
			}
			if diff := cmp.Diff(want, cmd.Args); diff != "" {
				t.Errorf("pip arguments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInstallNothing(t *testing.T) {
	target := filepath.Join(t.TempDir(), "app_packages")
	runner := &fakeRunner{}
	inst := &Installer{Tools: fakeTools{}, Runner: runner, Index: &fakeIndex{}}

	res, err := inst.Install(context.Background(), nil, target, iosTarget)
	require.NoError(t, err)
	assert.Empty(t, res.Installed)
	assert.DirExists(t, target)
	assert.Empty(t, runner.Commands)
}

func TestInstallFailures(t *testing.T) {
	tests := []struct {
		Name   string
		Runner *fakeRunner
		Index  *fakeIndex
		Tools  fakeTools
		Target satchel.TargetPlatform
		Check  func(t *testing.T, err error)
	}{
		{
			Name:   "pip fails",
			Runner: &fakeRunner{Err: errors.New("exit status 1"), Stderr: "ERROR: No matching distribution found for requests\n"},
			Index:  &fakeIndex{},
			Tools:  fakeTools{"python": {Path: "python3"}},
			Target: satchel.TargetPlatform{Name: "linux"},
			Check: func(t *testing.T, err error) {
				var instErr *satchel.InstallError
				require.ErrorAs(t, err, &instErr)
				assert.Equal(t, "ERROR: No matching distribution found for requests", instErr.Stderr)
				assert.Equal(t, "linux", instErr.Platform)
				assert.Equal(t, satchel.ClassEnvironment, satchel.Classify(err))
			},
		},
		{
			Name:   "index unreachable",
			Runner: &fakeRunner{},
			Index:  &fakeIndex{Err: errors.New("connection refused")},
			Tools:  fakeTools{"python": {Path: "python3"}},
			Target: iosTarget,
			Check: func(t *testing.T, err error) {
				var instErr *satchel.InstallError
				require.ErrorAs(t, err, &instErr)
				assert.ErrorContains(t, err, "connection refused")
			},
		},
		{
			Name:   "no python",
			Runner: &fakeRunner{},
			Index:  &fakeIndex{},
			Tools:  fakeTools{},
			Target: satchel.TargetPlatform{Name: "linux"},
			Check: func(t *testing.T, err error) {
				var toolErr *satchel.ToolNotFoundError
				require.ErrorAs(t, err, &toolErr)
				assert.Equal(t, "python", toolErr.Tool)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			inst := &Installer{Tools: test.Tools, Runner: test.Runner, Index: test.Index}
			_, err := inst.Install(context.Background(), []string{"requests"}, filepath.Join(t.TempDir(), "pkgs"), test.Target)
			test.Check(t, err)
		})
	}
}

func TestSpecifier(t *testing.T) {
	tests := []struct {
		Requirement string
		Expectation string
	}{
		{"requests", ""},
		{"numpy==1.0", "==1.0"},
		{"Pillow[webp] >= 10.0, <11; python_version > '3.8'", ">= 10.0, <11"},
		{"toga (>=0.4)", ">=0.4"},
		{"pkg @ https://example.com/pkg-1.0-py3-none-any.whl", ""},
	}
	for _, test := range tests {
		t.Run(test.Requirement, func(t *testing.T) {
			assert.Equal(t, test.Expectation, Specifier(test.Requirement))
		})
	}
}

func TestFilterFiles(t *testing.T) {
	files := []string{
		"pkg-1.0.tar.gz",
		"pkg-1.4.2-py3-none-any.whl",
		"pkg-1.9.zip",
		"pkg-2.0-cp312-cp312-ios_13_0_arm64_iphoneos.whl",
		"pkg-2.1.post1.tar.gz",
	}
	tests := []struct {
		Spec        string
		Expectation []string
	}{
		{Spec: "", Expectation: files},
		{Spec: "==1.0", Expectation: []string{"pkg-1.0.tar.gz", "pkg-2.1.post1.tar.gz"}},
		{Spec: ">=1.4,<2", Expectation: []string{"pkg-1.4.2-py3-none-any.whl", "pkg-1.9.zip", "pkg-2.1.post1.tar.gz"}},
		{Spec: "~=1.4.2", Expectation: []string{"pkg-1.4.2-py3-none-any.whl", "pkg-2.1.post1.tar.gz"}},
		{Spec: "~=1.4", Expectation: []string{"pkg-1.4.2-py3-none-any.whl", "pkg-1.9.zip", "pkg-2.1.post1.tar.gz"}},
		{Spec: "!=2.0", Expectation: []string{"pkg-1.0.tar.gz", "pkg-1.4.2-py3-none-any.whl", "pkg-1.9.zip", "pkg-2.1.post1.tar.gz"}},
	}
	for _, test := range tests {
		t.Run(test.Spec, func(t *testing.T) {
			c, err := ParseSpecifier(test.Spec)
			require.NoError(t, err)
			if diff := cmp.Diff(test.Expectation, FilterFiles(files, c)); diff != "" {
				t.Errorf("FilterFiles() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := ParseSpecifier("~=1")
	assert.Error(t, err)
	_, err = ParseSpecifier("@@1.0")
	assert.Error(t, err)
}

func TestSimpleIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/simple/zope-interface/":
			assert.Equal(t, "application/vnd.pypi.simple.v1+json", r.Header.Get("Accept"))
			fmt.Fprint(w, `{"files": [
				{"filename": "zope.interface-6.0.tar.gz", "yanked": false},
				{"filename": "zope.interface-5.0.tar.gz", "yanked": "broken release"},
				{"filename": "zope.interface-6.0-py3-none-any.whl"}
			]}`)
		case "/simple/broken/":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	idx := NewSimpleIndex()
	idx.Client.RetryMax = 0

	files, err := idx.Files(context.Background(), srv.URL+"/simple/", "zope.interface")
	require.NoError(t, err)
	assert.Equal(t, []string{"zope.interface-6.0.tar.gz", "zope.interface-6.0-py3-none-any.whl"}, files)

	files, err = idx.Files(context.Background(), srv.URL+"/simple", "unknown")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = idx.Files(context.Background(), srv.URL+"/simple", "broken")
	assert.Error(t, err)
}
