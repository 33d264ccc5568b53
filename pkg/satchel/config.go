package satchel

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// ManifestFile is the name of the project manifest satchel reads its configuration from
	ManifestFile = "pyproject.toml"

	// EnvvarProjectRoot names the environment variable we check for the project root
	EnvvarProjectRoot = "SATCHEL_PROJECT_ROOT"

	toolSection = "satchel"
	appSection  = "app"
)

// ProjectConfig is the project-wide part of the configuration
type ProjectConfig struct {
	ProjectName string `yaml:"projectName" json:"projectName"`
	Bundle      string `yaml:"bundle" json:"bundle"`
	Version     string `yaml:"version" json:"version"`
	URL         string `yaml:"url,omitempty" json:"url,omitempty"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	AuthorEmail string `yaml:"authorEmail,omitempty" json:"authorEmail,omitempty"`
	License     string `yaml:"license,omitempty" json:"license,omitempty"`
}

// AppConfig is the configuration of a single app. Once resolved for a platform and format
// it carries the merged settings of all configuration layers.
type AppConfig struct {
	AppName            string   `yaml:"appName" json:"appName"`
	FormalName         string   `yaml:"formalName" json:"formalName"`
	Bundle             string   `yaml:"bundle" json:"bundle"`
	Version            string   `yaml:"version" json:"version"`
	Description        string   `yaml:"description" json:"description"`
	URL                string   `yaml:"url,omitempty" json:"url,omitempty"`
	Author             string   `yaml:"author,omitempty" json:"author,omitempty"`
	AuthorEmail        string   `yaml:"authorEmail,omitempty" json:"authorEmail,omitempty"`
	License            string   `yaml:"license,omitempty" json:"license,omitempty"`
	Sources            []string `yaml:"sources" json:"sources"`
	Requires           []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	TestSources        []string `yaml:"testSources,omitempty" json:"testSources,omitempty"`
	TestRequires       []string `yaml:"testRequires,omitempty" json:"testRequires,omitempty"`
	Icon               string   `yaml:"icon,omitempty" json:"icon,omitempty"`
	Splash             string   `yaml:"splash,omitempty" json:"splash,omitempty"`
	Template           string   `yaml:"template,omitempty" json:"template,omitempty"`
	TemplateBranch     string   `yaml:"templateBranch,omitempty" json:"templateBranch,omitempty"`
	CleanupPaths       []string `yaml:"cleanupPaths,omitempty" json:"cleanupPaths,omitempty"`
	PublicationChannel string   `yaml:"publicationChannel,omitempty" json:"publicationChannel,omitempty"`

	// Publish holds per-channel settings, e.g. [tool.satchel.app.x.publish.s3]
	Publish map[string]map[string]interface{} `yaml:"publish,omitempty" json:"publish,omitempty"`

	// Platform and Format are empty for platform-agnostic configurations
	Platform string `yaml:"platform,omitempty" json:"platform,omitempty"`
	Format   string `yaml:"format,omitempty" json:"format,omitempty"`

	// PlatformSettings is the raw platform layer including nested format tables
	PlatformSettings map[string]interface{} `yaml:"-" json:"-"`

	// Settings are the merged key/values of all layers, including keys satchel
	// does not interpret itself. Backends and templates read their options from here.
	Settings map[string]interface{} `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// BundleName is the app name in a form usable in a bundle identifier
func (a *AppConfig) BundleName() string {
	return strings.ReplaceAll(a.AppName, "_", "-")
}

// BundleID is the reversed-domain identifier of the app
func (a *AppConfig) BundleID() string {
	return a.Bundle + "." + a.BundleName()
}

// ModuleName is the name of the Python module implementing the app
func (a *AppConfig) ModuleName() string {
	return strings.ReplaceAll(a.AppName, "-", "_")
}

// ClassName is the formal name reduced to an identifier
func (a *AppConfig) ClassName() string {
	var res strings.Builder
	for i, r := range a.FormalName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			res.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				res.WriteRune('_')
			}
			res.WriteRune(r)
		}
	}
	return res.String()
}

// String returns a setting as string
func (a *AppConfig) String(key string) string {
	s, _ := a.Settings[key].(string)
	return s
}

// Bool returns a setting as bool
func (a *AppConfig) Bool(key string) bool {
	b, _ := a.Settings[key].(bool)
	return b
}

// Strings returns a setting as string list
func (a *AppConfig) Strings(key string) []string {
	res, _ := toStringSlice(a.Settings[key])
	return res
}

// Project is a loaded project manifest
type Project struct {
	// Origin is the directory containing the manifest
	Origin string
	Config ProjectConfig

	global   map[string]interface{}
	apps     map[string]map[string]interface{}
	registry *Registry
}

// FindProject looks for the project manifest starting at path and walking up the directory tree
func FindProject(path string, reg *Registry) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	for dir := abs; ; {
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err == nil {
			return Load(filepath.Join(dir, ManifestFile), reg)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, configErrorf("cannot find %s in %s or any of its parents", ManifestFile, abs)
}

// Load parses a project manifest and validates the configuration against the registry
func Load(path string, reg *Registry) (*Project, error) {
	fc, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("cannot read project manifest: %w", err)
	}

	origin, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return parse(fc, origin, reg)
}

func parse(fc []byte, origin string, reg *Registry) (*Project, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(fc, &doc); err != nil {
		return nil, configErrorf("invalid %s: %v", ManifestFile, err)
	}

	tool, _ := doc["tool"].(map[string]interface{})
	global, ok := tool[toolSection].(map[string]interface{})
	if !ok {
		return nil, configErrorf("%s does not contain a [tool.%s] section", ManifestFile, toolSection)
	}
	global = copyTable(global)

	rawApps, _ := global[appSection].(map[string]interface{})
	delete(global, appSection)
	if len(rawApps) == 0 {
		return nil, configErrorf("no apps defined; add a [tool.%s.%s.<name>] section", toolSection, appSection)
	}

	if pep621, ok := doc["project"].(map[string]interface{}); ok {
		mergePEP621(global, pep621)
	}

	prj := &Project{
		Origin:   origin,
		global:   global,
		apps:     make(map[string]map[string]interface{}, len(rawApps)),
		registry: reg,
	}
	for name, raw := range rawApps {
		tbl, ok := raw.(map[string]interface{})
		if !ok {
			return nil, configErrorf("app %s must be a table", name)
		}
		prj.apps[name] = tbl
	}

	cfg, err := newProjectConfig(global)
	if err != nil {
		return nil, err
	}
	prj.Config = cfg
	if err := prj.validate(); err != nil {
		return nil, err
	}

	log.WithField("origin", origin).WithField("apps", prj.AppNames()).Debug("loaded project")
	return prj, nil
}

// AppNames returns the names of all apps in the project, sorted
func (p *Project) AppNames() []string {
	res := make([]string, 0, len(p.apps))
	for name := range p.apps {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Apps returns the platform-agnostic configuration of all apps
func (p *Project) Apps() (map[string]*AppConfig, error) {
	return p.Resolve("", "")
}

// Resolve produces the configuration of every app for the given platform and format.
// An empty format selects the platform's default format. An empty platform produces
// the platform-agnostic configuration.
func (p *Project) Resolve(platform, format string) (map[string]*AppConfig, error) {
	if platform != "" && format == "" && p.registry != nil {
		format = p.registry.DefaultFormat(platform)
	}

	res := make(map[string]*AppConfig, len(p.apps))
	for _, name := range p.AppNames() {
		layers, platformSettings, err := p.layers(name, platform, format)
		if err != nil {
			return nil, err
		}

		app, err := newAppConfig(name, mergeLayers(layers...))
		if err != nil {
			return nil, err
		}
		app.Platform = platform
		app.Format = format
		app.PlatformSettings = platformSettings
		if err := validateApp(app); err != nil {
			return nil, err
		}
		res[name] = app
	}
	return res, nil
}

// layers returns the configuration layers of an app from least to most specific
func (p *Project) layers(name, platform, format string) (layers []map[string]interface{}, platformSettings map[string]interface{}, err error) {
	app := p.apps[name]
	layers = append(layers, p.global, settingsOnly(app, p.isPlatform))
	if platform == "" {
		return layers, nil, nil
	}

	platformSettings, _ = app[platform].(map[string]interface{})
	if platformSettings == nil {
		return layers, nil, nil
	}
	layers = append(layers, settingsOnly(platformSettings, func(key string) bool { return p.isFormat(platform, key) }))
	if format == "" {
		return layers, platformSettings, nil
	}
	if formatSettings, ok := platformSettings[format].(map[string]interface{}); ok {
		layers = append(layers, formatSettings)
	}
	return layers, platformSettings, nil
}

func (p *Project) isPlatform(key string) bool {
	if p.registry == nil {
		return false
	}
	_, ok := p.registry.backends[key]
	return ok
}

func (p *Project) isFormat(platform, key string) bool {
	if p.registry == nil {
		return false
	}
	_, ok := p.registry.backends[platform][key]
	return ok
}

// settingsOnly returns the table without the keys nested layers live under
func settingsOnly(tbl map[string]interface{}, isLayer func(key string) bool) map[string]interface{} {
	res := make(map[string]interface{}, len(tbl))
	for k, v := range tbl {
		if isLayer(k) {
			continue
		}
		res[k] = v
	}
	return res
}

func newProjectConfig(global map[string]interface{}) (res ProjectConfig, err error) {
	for _, key := range []string{"project_name", "bundle", "version"} {
		if s, _ := global[key].(string); s == "" {
			return res, configErrorf("%s is required in [tool.%s]", key, toolSection)
		}
	}

	res = ProjectConfig{
		ProjectName: stringValue(global, "project_name"),
		Bundle:      stringValue(global, "bundle"),
		Version:     stringValue(global, "version"),
		URL:         stringValue(global, "url"),
		Author:      stringValue(global, "author"),
		AuthorEmail: stringValue(global, "author_email"),
		License:     stringValue(global, "license"),
	}
	return res, nil
}

func newAppConfig(name string, settings map[string]interface{}) (*AppConfig, error) {
	res := &AppConfig{
		AppName:            name,
		FormalName:         stringValue(settings, "formal_name"),
		Bundle:             stringValue(settings, "bundle"),
		Version:            stringValue(settings, "version"),
		Description:        firstLine(stringValue(settings, "description")),
		URL:                stringValue(settings, "url"),
		Author:             stringValue(settings, "author"),
		AuthorEmail:        stringValue(settings, "author_email"),
		License:            stringValue(settings, "license"),
		Icon:               stringValue(settings, "icon"),
		Splash:             stringValue(settings, "splash"),
		Template:           stringValue(settings, "template"),
		TemplateBranch:     stringValue(settings, "template_branch"),
		PublicationChannel: stringValue(settings, "publication_channel"),
		Settings:           settings,
	}
	if res.FormalName == "" {
		res.FormalName = name
	}

	var err error
	lists := []struct {
		Key string
		Dst *[]string
	}{
		{"sources", &res.Sources},
		{"requires", &res.Requires},
		{"test_sources", &res.TestSources},
		{"test_requires", &res.TestRequires},
		{"cleanup_paths", &res.CleanupPaths},
	}
	for _, l := range lists {
		*l.Dst, err = toStringSlice(settings[l.Key])
		if err != nil {
			return nil, configErrorf("%s of app %s: %v", l.Key, name, err)
		}
	}

	if pub, ok := settings["publish"].(map[string]interface{}); ok {
		res.Publish = make(map[string]map[string]interface{}, len(pub))
		for channel, cfg := range pub {
			tbl, ok := cfg.(map[string]interface{})
			if !ok {
				return nil, configErrorf("publish.%s of app %s must be a table", channel, name)
			}
			res.Publish[channel] = tbl
		}
	}

	return res, nil
}

func stringValue(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

func toStringSlice(v interface{}) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		res := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, xerrors.Errorf("expected a list of strings, found %v", e)
			}
			res = append(res, s)
		}
		return res, nil
	default:
		return nil, xerrors.Errorf("expected a list of strings, found %v", v)
	}
}

func copyTable(m map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{}, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
