package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// Tool describes how to find, verify and install an external tool
type Tool struct {
	Name string

	// EnvVar names an environment variable pointing to an installation of the tool
	EnvVar string
	// EnvPath is the executable relative to the directory EnvVar points to.
	// If empty, EnvVar points to the executable itself.
	EnvPath string

	// HostOS lists the GOOS values the tool is available on. Nil means all.
	HostOS []string
	// KnownPaths are well-known install locations per GOOS
	KnownPaths map[string][]string
	// Executables are looked up in PATH
	Executables []string
	// Probe asks the operating system where the tool lives
	Probe func(ctx context.Context, r *Registry) (string, error)

	// VersionArgs make the tool print its version, which VersionRegexp extracts
	VersionArgs   []string
	VersionRegexp *regexp.Regexp
	MinVersion    string

	// Download describes how to install the tool on a host. Nil or a nil result means it cannot be installed.
	Download func(goos, goarch string) *Download

	Remediation string
}

// Registry locates tools. Located tools are remembered for the lifetime of the registry.
type Registry struct {
	HostOS   string
	HostArch string
	Runner   satchel.Runner
	Cache    *Cache
	HTTP     *retryablehttp.Client

	Getenv   func(string) string
	LookPath func(string) (string, error)

	tools   map[string]*Tool
	mu      sync.Mutex
	located map[string]*satchel.ToolHandle
}

// NewRegistry produces a registry knowing the built-in tools
func NewRegistry(cache *Cache, runner satchel.Runner) *Registry {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil

	res := &Registry{
		HostOS:   runtime.GOOS,
		HostArch: runtime.GOARCH,
		Runner:   runner,
		Cache:    cache,
		HTTP:     httpClient,
		Getenv:   os.Getenv,
		LookPath: exec.LookPath,
		tools:    make(map[string]*Tool),
		located:  make(map[string]*satchel.ToolHandle),
	}
	for _, t := range Builtin() {
		res.Add(t)
	}
	return res
}

// Add makes a tool known to the registry, replacing any tool of the same name
func (r *Registry) Add(t *Tool) {
	if r.tools == nil {
		r.tools = make(map[string]*Tool)
	}
	r.tools[t.Name] = t
}

// Require implements satchel.ToolLocator
func (r *Registry) Require(ctx context.Context, name string, app *satchel.AppConfig) (*satchel.ToolHandle, error) {
	r.mu.Lock()
	if h, ok := r.located[name]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, &satchel.ToolNotFoundError{Tool: name, Remediation: "satchel does not know how to locate this tool"}
	}
	if !r.availableOnHost(t) {
		return nil, &satchel.ToolNotFoundError{
			Tool:        name,
			Remediation: name + " is only available on " + strings.Join(t.HostOS, ", "),
		}
	}

	h, err := r.locate(ctx, t)
	if err != nil {
		return nil, err
	}
	if !h.Managed {
		err = r.verifyVersion(ctx, t, h)
		if err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"tool":    name,
		"path":    h.Path,
		"version": h.Version,
		"managed": h.Managed,
	}).Debug("located tool")

	r.mu.Lock()
	r.located[name] = h
	r.mu.Unlock()
	return h, nil
}

func (r *Registry) availableOnHost(t *Tool) bool {
	if len(t.HostOS) == 0 {
		return true
	}
	for _, h := range t.HostOS {
		if h == r.HostOS {
			return true
		}
	}
	return false
}

// locate tries the env var override, known paths, the PATH, the OS probe and finally the tool cache
func (r *Registry) locate(ctx context.Context, t *Tool) (*satchel.ToolHandle, error) {
	if t.EnvVar != "" {
		if v := r.Getenv(t.EnvVar); v != "" {
			p := v
			if t.EnvPath != "" {
				p = filepath.Join(v, t.EnvPath)
			}
			if exists(p) {
				return &satchel.ToolHandle{Name: t.Name, Path: p, Home: v}, nil
			}
			log.WithField("tool", t.Name).WithField(t.EnvVar, v).Warn("ignoring environment override: it does not point to a valid installation")
		}
	}

	for _, p := range t.KnownPaths[r.HostOS] {
		if exists(p) {
			return &satchel.ToolHandle{Name: t.Name, Path: p}, nil
		}
	}

	for _, exe := range t.Executables {
		if p, err := r.LookPath(exe); err == nil {
			return &satchel.ToolHandle{Name: t.Name, Path: p}, nil
		}
	}

	if t.Probe != nil {
		p, err := t.Probe(ctx, r)
		if err == nil && p != "" {
			return &satchel.ToolHandle{Name: t.Name, Path: p}, nil
		}
		if err != nil {
			log.WithError(err).WithField("tool", t.Name).Debug("probe failed")
		}
	}

	if t.Download != nil {
		if d := t.Download(r.HostOS, r.HostArch); d != nil {
			home, err := r.install(ctx, t, d)
			if err != nil {
				return nil, err
			}
			return &satchel.ToolHandle{
				Name:    t.Name,
				Path:    filepath.Join(home, filepath.FromSlash(d.Executable)),
				Home:    home,
				Version: d.Version,
				Managed: true,
			}, nil
		}
	}

	return nil, &satchel.ToolNotFoundError{Tool: t.Name, Remediation: t.Remediation}
}

func (r *Registry) verifyVersion(ctx context.Context, t *Tool, h *satchel.ToolHandle) error {
	if len(t.VersionArgs) == 0 || t.VersionRegexp == nil || r.Runner == nil {
		return nil
	}

	res, err := r.Runner.Run(ctx, satchel.Command{Name: h.Path, Args: t.VersionArgs})
	if err != nil {
		return xerrors.Errorf("cannot determine version of %s: %w", t.Name, err)
	}
	out := string(res.Stdout) + string(res.Stderr)
	m := t.VersionRegexp.FindStringSubmatch(out)
	if len(m) < 2 {
		log.WithField("tool", t.Name).WithField("output", out).Warn("cannot parse tool version")
		return nil
	}
	h.Version = m[1]

	if t.MinVersion == "" {
		return nil
	}
	return CheckMinVersion(t.Name, h.Version, t.MinVersion)
}

// CheckMinVersion fails with a ToolVersionError if found is older than minimum
func CheckMinVersion(tool, found, minimum string) error {
	fv, err := semver.NewVersion(found)
	if err != nil {
		log.WithError(err).WithField("tool", tool).WithField("version", found).Warn("cannot compare tool version")
		return nil
	}
	mv, err := semver.NewVersion(minimum)
	if err != nil {
		return xerrors.Errorf("invalid minimum version %s of %s: %w", minimum, tool, err)
	}
	if fv.LessThan(mv) {
		return &satchel.ToolVersionError{Tool: tool, Found: found, Minimum: minimum}
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
