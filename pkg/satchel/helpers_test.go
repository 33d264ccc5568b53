package satchel

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testBackend records which hooks ran. Hooks can be overridden per test.
type testBackend struct {
	platform string
	format   string
	hostOS   []string
	tools    map[Stage][]string

	mu    sync.Mutex
	calls []string
	runs  []RunOptions

	build   func(ctx context.Context, bctx *BuildContext) error
	pkg     func(ctx context.Context, bctx *BuildContext) (*Artifact, error)
	publish func(ctx context.Context, channel Channel, artifact *Artifact) error
}

func newTestBackend(platform, format string) *testBackend {
	return &testBackend{platform: platform, format: format}
}

func (b *testBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *testBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.calls...)
}

func (b *testBackend) Platform() string                   { return b.platform }
func (b *testBackend) Format() string                     { return b.format }
func (b *testBackend) SupportedHostOS() []string          { return b.hostOS }
func (b *testBackend) RequiredTools(stage Stage) []string { return b.tools[stage] }

func (b *testBackend) Layout(app *AppConfig) Layout {
	return Layout{
		AppPath:         filepath.Join("src", "app"),
		AppPackagesPath: filepath.Join("src", "app_packages"),
		BinaryPath:      "bin",
		ProjectPath:     ".",
	}
}

func (b *testBackend) TargetPlatform(app *AppConfig) TargetPlatform {
	return TargetPlatform{Name: b.platform}
}

func (b *testBackend) Template(app *AppConfig) TemplateRef {
	return TemplateRef{URL: "https://example.com/template.git", Branch: b.platform}
}

func (b *testBackend) TemplateContext(app *AppConfig) map[string]interface{} {
	return map[string]interface{}{"Backend": b.platform + "/" + b.format}
}

func (b *testBackend) Create(ctx context.Context, bctx *BuildContext, app *AppConfig) error {
	b.record("create")
	return nil
}

func (b *testBackend) Update(ctx context.Context, bctx *BuildContext, app *AppConfig) error {
	b.record("update")
	return nil
}

func (b *testBackend) Build(ctx context.Context, bctx *BuildContext, app *AppConfig) error {
	b.record("build")
	if b.build != nil {
		return b.build(ctx, bctx)
	}
	return nil
}

func (b *testBackend) Run(ctx context.Context, bctx *BuildContext, app *AppConfig, opts RunOptions) error {
	b.record("run")
	b.mu.Lock()
	b.runs = append(b.runs, opts)
	b.mu.Unlock()
	return nil
}

func (b *testBackend) Package(ctx context.Context, bctx *BuildContext, app *AppConfig) (*Artifact, error) {
	b.record("package")
	if b.pkg != nil {
		return b.pkg(ctx, bctx)
	}
	dst := filepath.Join(bctx.DistPath(), app.AppName+"-"+app.Version+".zip")
	err := os.WriteFile(dst, []byte("artifact"), 0644)
	if err != nil {
		return nil, err
	}
	return &Artifact{Path: dst}, nil
}

func (b *testBackend) Publish(ctx context.Context, bctx *BuildContext, app *AppConfig, channel Channel, artifact *Artifact) error {
	b.record("publish")
	if b.publish != nil {
		return b.publish(ctx, channel, artifact)
	}
	_, err := channel.Publish(ctx, app, artifact)
	return err
}

// signingBackend is a testBackend that can sign
type signingBackend struct {
	*testBackend
	identities []string
}

func (b *signingBackend) SignBundle(ctx context.Context, bctx *BuildContext, app *AppConfig, identity string) error {
	b.record("sign bundle")
	b.identities = append(b.identities, identity)
	return nil
}

func (b *signingBackend) SignArtifact(ctx context.Context, bctx *BuildContext, app *AppConfig, artifact *Artifact, identity string) error {
	b.record("sign artifact")
	return nil
}

// testRenderer writes a fixed set of files
type testRenderer struct {
	Files map[string]string
	Err   error

	Refs []TemplateRef
	Data []map[string]interface{}
}

func (r *testRenderer) Render(ctx context.Context, ref TemplateRef, data map[string]interface{}, dst string) error {
	r.Refs = append(r.Refs, ref)
	r.Data = append(r.Data, data)
	if r.Err != nil {
		return r.Err
	}

	files := r.Files
	if files == nil {
		files = map[string]string{"README": "scaffold"}
	}
	for name, content := range files {
		fn := filepath.Join(dst, name)
		err := os.MkdirAll(filepath.Dir(fn), 0755)
		if err != nil {
			return err
		}
		err = os.WriteFile(fn, []byte(content), 0644)
		if err != nil {
			return err
		}
	}
	return nil
}

// testInstaller records installations instead of running pip
type testInstaller struct {
	Err      error
	Installs [][]string
}

func (i *testInstaller) Install(ctx context.Context, requires []string, target string, platform TargetPlatform) (*InstallResult, error) {
	i.Installs = append(i.Installs, append([]string{}, requires...))
	if i.Err != nil {
		return nil, i.Err
	}
	err := os.MkdirAll(target, 0755)
	if err != nil {
		return nil, err
	}
	return &InstallResult{Target: target, Installed: requires}, nil
}

// testTools knows a fixed set of tools
type testTools map[string]*ToolHandle

func (t testTools) Require(ctx context.Context, name string, app *AppConfig) (*ToolHandle, error) {
	h, ok := t[name]
	if !ok {
		return nil, &ToolNotFoundError{Tool: name}
	}
	return h, nil
}

type testConfirmer struct {
	Answer    bool
	Questions []string
}

func (c *testConfirmer) Confirm(question string) (bool, error) {
	c.Questions = append(c.Questions, question)
	return c.Answer, nil
}

type testChannel struct {
	name      string
	signed    bool
	published []string
}

func (c *testChannel) Name() string            { return c.name }
func (c *testChannel) RequiresSignature() bool { return c.signed }
func (c *testChannel) Publish(ctx context.Context, app *AppConfig, artifact *Artifact) (string, error) {
	c.published = append(c.published, artifact.Path)
	return "test://" + filepath.Base(artifact.Path), nil
}

// testProject produces an app whose sources exist below a fresh base directory
func testProject(t *testing.T) (basePath string, app *AppConfig) {
	t.Helper()

	basePath = t.TempDir()
	files := map[string]string{
		"src/hello/__init__.py":             "",
		"src/hello/app.py":                  "print('hello')",
		"src/hello/__pycache__/app.pyc":     "compiled",
		"tests/test_app.py":                 "def test_app(): pass",
		"tests/__pycache__/test_app.pyc":    "compiled",
		"src/hello/resources/icon.png":      "png",
		"src/hello/resources/unwanted.tmp":  "tmp",
		"src/hello/resources/sub/other.tmp": "tmp",
	}
	for name, content := range files {
		fn := filepath.Join(basePath, name)
		if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(fn, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	app = &AppConfig{
		AppName:      "hello",
		FormalName:   "Hello World",
		Bundle:       "com.example",
		Version:      "1.0.0",
		Description:  "A test app",
		Sources:      []string{"src/hello"},
		TestSources:  []string{"tests"},
		Requires:     []string{"requests"},
		TestRequires: []string{"pytest"},
		Platform:     "testos",
		Format:       "bundle",
		Settings:     map[string]interface{}{},
	}
	return basePath, app
}

// testOrchestrator wires an orchestrator with fakes around a single backend
func testOrchestrator(t *testing.T, basePath string, b Backend, opts ...Option) *Orchestrator {
	t.Helper()

	reg := NewRegistry()
	reg.HostOS = "testhost"
	if err := reg.Register(b.Platform(), b.Format(), b); err != nil {
		t.Fatal(err)
	}
	return NewOrchestrator(basePath, reg, append([]Option{
		WithRenderer(&testRenderer{}),
		WithInstaller(&testInstaller{}),
		WithTools(testTools{}),
	}, opts...)...)
}
