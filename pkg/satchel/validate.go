package satchel

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// pep508NameRegexp matches valid Python distribution names
	pep508NameRegexp = regexp.MustCompile(`(?i)^([A-Z0-9]|[A-Z0-9][A-Z0-9._-]*[A-Z0-9])$`)

	// bundleRegexp matches reversed domain names
	bundleRegexp = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)+$`)

	// pep440CanonicalRegexp matches versions in canonical PEP 440 form
	pep440CanonicalRegexp = regexp.MustCompile(`^(?:[1-9][0-9]*!)?(?:0|[1-9][0-9]*)(?:\.(?:0|[1-9][0-9]*))*(?:(?:a|b|rc)(?:0|[1-9][0-9]*))?(?:\.post(?:0|[1-9][0-9]*))?(?:\.dev(?:0|[1-9][0-9]*))?$`)

	normalizeNameRegexp = regexp.MustCompile(`[-_.]+`)

	reservedWords = map[string]struct{}{
		"false": {}, "none": {}, "true": {}, "and": {}, "as": {}, "assert": {}, "async": {},
		"await": {}, "break": {}, "class": {}, "continue": {}, "def": {}, "del": {}, "elif": {},
		"else": {}, "except": {}, "finally": {}, "for": {}, "from": {}, "global": {}, "if": {},
		"import": {}, "in": {}, "is": {}, "lambda": {}, "nonlocal": {}, "not": {}, "or": {},
		"pass": {}, "raise": {}, "return": {}, "try": {}, "while": {}, "with": {}, "yield": {},
	}
)

// IsValidAppName checks if name is a valid distribution name that can also serve as module name
func IsValidAppName(name string) bool {
	if !pep508NameRegexp.MatchString(name) {
		return false
	}
	_, reserved := reservedWords[strings.ToLower(name)]
	return !reserved
}

// IsValidBundle checks if bundle is a reversed domain name
func IsValidBundle(bundle string) bool {
	return bundleRegexp.MatchString(bundle)
}

// IsCanonicalVersion checks if version is a canonical PEP 440 version
func IsCanonicalVersion(version string) bool {
	return pep440CanonicalRegexp.MatchString(version)
}

// NormalizeName produces the normalized form of a distribution name
func NormalizeName(name string) string {
	return strings.ToLower(normalizeNameRegexp.ReplaceAllString(name, "-"))
}

func (p *Project) validate() error {
	if !IsValidBundle(p.Config.Bundle) {
		return configErrorf("%q is not a valid bundle identifier; it must be a reversed domain name like com.example", p.Config.Bundle)
	}
	if !IsCanonicalVersion(p.Config.Version) {
		return configErrorf("version %q is not a canonical PEP 440 version", p.Config.Version)
	}

	seen := make(map[string]string, len(p.apps))
	for _, name := range p.AppNames() {
		if !IsValidAppName(name) {
			return configErrorf("%q is not a valid app name; app names must be valid Python distribution names and must not be reserved words", name)
		}

		norm := NormalizeName(name)
		if other, exists := seen[norm]; exists {
			return configErrorf("app names %q and %q collide once normalized to %q", other, name, norm)
		}
		seen[norm] = name

		if err := p.validateLayers(name); err != nil {
			return err
		}
	}

	apps, err := p.Apps()
	if err != nil {
		return err
	}
	for _, name := range p.AppNames() {
		app := apps[name]
		if app.Description == "" {
			return configErrorf("app %s has no description", name)
		}
		if len(app.Sources) == 0 {
			return configErrorf("app %s does not list any sources", name)
		}
	}
	return nil
}

// validateLayers ensures every nested table of an app names a registered platform or format
func (p *Project) validateLayers(app string) error {
	for key, val := range p.apps[app] {
		platformTbl, ok := val.(map[string]interface{})
		if !ok {
			continue
		}
		if _, isSetting := tableKeys[key]; isSetting {
			continue
		}
		if !p.isPlatform(key) {
			return configErrorf("app %s configures unknown platform %q (known platforms: %s)", app, key, strings.Join(p.knownPlatforms(), ", "))
		}

		for fkey, fval := range platformTbl {
			if _, ok := fval.(map[string]interface{}); !ok {
				continue
			}
			if _, isSetting := tableKeys[fkey]; isSetting {
				continue
			}
			if !p.isFormat(key, fkey) {
				return configErrorf("app %s configures unknown %s format %q (known formats: %s)", app, key, fkey, strings.Join(p.registry.Formats(key), ", "))
			}
		}
	}
	return nil
}

func (p *Project) knownPlatforms() []string {
	if p.registry == nil {
		return nil
	}
	return p.registry.Platforms()
}

func validateApp(app *AppConfig) error {
	if app.Bundle != "" && !IsValidBundle(app.Bundle) {
		return configErrorf("%q is not a valid bundle identifier for app %s", app.Bundle, app.AppName)
	}
	if app.Version != "" && !IsCanonicalVersion(app.Version) {
		return configErrorf("version %q of app %s is not a canonical PEP 440 version", app.Version, app.AppName)
	}
	for _, key := range sortedKeys(CumulativeKeys) {
		if _, err := toStringSlice(app.Settings[key]); err != nil {
			return configErrorf("%s of app %s: %v", key, app.AppName, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
