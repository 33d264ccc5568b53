package requirements

import (
	"path"
	"regexp"
	"strings"
)

// Kind classifies what an index offers for a requirement
type Kind int

const (
	// KindMissing means the requirement is not available at all
	KindMissing Kind = iota
	// KindSourceOnly means only source distributions are available
	KindSourceOnly
	// KindBinary means a binary wheel for the target platform is available
	KindBinary
	// KindPure means a platform independent wheel is available
	KindPure
)

func (k Kind) String() string {
	switch k {
	case KindSourceOnly:
		return "source-only"
	case KindBinary:
		return "binary"
	case KindPure:
		return "pure"
	default:
		return "missing"
	}
}

var (
	projectNameRegexp = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`)
	normalizeRegexp   = regexp.MustCompile(`[-_.]+`)
)

// NormalizeProject produces the normalized form of a project name
func NormalizeProject(name string) string {
	return strings.ToLower(normalizeRegexp.ReplaceAllString(name, "-"))
}

// ProjectName extracts the project name from a requirement specifier like "foo[bar]>=1.0; python_version>'3'".
// Direct references (paths and URLs) yield an empty name.
func ProjectName(requirement string) string {
	requirement = strings.TrimSpace(requirement)
	if IsDirectReference(requirement) {
		return ""
	}
	return projectNameRegexp.FindString(requirement)
}

// IsDirectReference checks if a requirement points at a path or URL instead of naming a project
func IsDirectReference(requirement string) bool {
	r := strings.TrimSpace(requirement)
	if strings.Contains(r, " @ ") || strings.Contains(r, "://") {
		return true
	}
	return strings.HasPrefix(r, ".") || strings.HasPrefix(r, "/") || strings.HasPrefix(r, "~") ||
		strings.HasSuffix(r, ".whl") || strings.HasSuffix(r, ".tar.gz") || strings.HasSuffix(r, ".zip") ||
		(len(r) > 2 && r[1] == ':' && (r[2] == '\\' || r[2] == '/'))
}

// Wheel is a parsed wheel file name
type Wheel struct {
	Project   string
	Version   string
	Python    []string
	ABI       []string
	Platforms []string
}

// ParseWheel parses a wheel file name. ok is false for anything that is not a wheel.
func ParseWheel(filename string) (w Wheel, ok bool) {
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if !strings.HasSuffix(filename, ".whl") {
		return w, false
	}
	segs := strings.Split(strings.TrimSuffix(filename, ".whl"), "-")
	// name-version(-build)?-python-abi-platform
	if len(segs) != 5 && len(segs) != 6 {
		return w, false
	}
	n := len(segs)
	return Wheel{
		Project:   segs[0],
		Version:   segs[1],
		Python:    strings.Split(segs[n-3], "."),
		ABI:       strings.Split(segs[n-2], "."),
		Platforms: strings.Split(segs[n-1], "."),
	}, true
}

// IsPure checks if the wheel runs on any platform
func (w Wheel) IsPure() bool {
	for _, p := range w.Platforms {
		if p == "any" {
			return true
		}
	}
	return false
}

// Matches checks if one of the wheel's platform tags matches one of the patterns
func (w Wheel) Matches(patterns []string) bool {
	for _, tag := range w.Platforms {
		for _, ptn := range patterns {
			if ok, _ := path.Match(ptn, tag); ok {
				return true
			}
		}
	}
	return false
}

// Classify determines the best kind of distribution among files for a target with the given wheel tags
func Classify(files []string, tags []string) Kind {
	res := KindMissing
	for _, fn := range files {
		w, ok := ParseWheel(fn)
		switch {
		case !ok:
			if isSourceDist(fn) && res < KindSourceOnly {
				res = KindSourceOnly
			}
		case w.IsPure():
			return KindPure
		case w.Matches(tags):
			res = KindBinary
		default:
			if res < KindSourceOnly {
				// a wheel for another platform proves the project exists, but is of no use here
				res = KindSourceOnly
			}
		}
	}
	return res
}

func isSourceDist(fn string) bool {
	return strings.HasSuffix(fn, ".tar.gz") || strings.HasSuffix(fn, ".zip") || strings.HasSuffix(fn, ".tar.bz2")
}
