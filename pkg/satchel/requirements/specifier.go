package requirements

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/xerrors"
)

var clauseRegexp = regexp.MustCompile(`^(~=|===|==|!=|<=|>=|<|>)\s*(\S+)$`)

// Specifier returns the version specifier of a requirement, e.g. ">=1.0,<2" for
// "foo[bar]>=1.0,<2; python_version>'3'". Requirements without a specifier yield "".
func Specifier(requirement string) string {
	r := strings.TrimSpace(requirement)
	if IsDirectReference(r) {
		return ""
	}
	if i := strings.Index(r, ";"); i >= 0 {
		r = r[:i]
	}
	r = strings.TrimSpace(r[len(projectNameRegexp.FindString(r)):])
	if strings.HasPrefix(r, "[") {
		if i := strings.Index(r, "]"); i >= 0 {
			r = strings.TrimSpace(r[i+1:])
		}
	}
	r = strings.TrimSuffix(strings.TrimPrefix(r, "("), ")")
	return strings.TrimSpace(r)
}

// ParseSpecifier translates a version specifier into a semver constraint.
// Only the common operators are understood; an empty specifier yields nil.
func ParseSpecifier(spec string) (*semver.Constraints, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var clauses []string
	for _, c := range strings.Split(spec, ",") {
		m := clauseRegexp.FindStringSubmatch(strings.TrimSpace(c))
		if m == nil {
			return nil, xerrors.Errorf("unsupported version clause %q", c)
		}
		op, v := m[1], m[2]
		switch op {
		case "==", "===":
			clauses = append(clauses, "= "+v)
		case "~=":
			upper, err := compatibleUpperBound(v)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, ">= "+v, "< "+upper)
		default:
			clauses = append(clauses, op+" "+v)
		}
	}
	return semver.NewConstraint(strings.Join(clauses, ", "))
}

// compatibleUpperBound computes the exclusive upper bound of a compatible release clause:
// ~=1.4.2 allows anything below 1.5, ~=1.4 anything below 2.
func compatibleUpperBound(v string) (string, error) {
	segs := strings.Split(v, ".")
	if len(segs) < 2 {
		return "", xerrors.Errorf("compatible release clause needs at least two version segments: %s", v)
	}
	segs = segs[:len(segs)-1]
	last, err := strconv.Atoi(segs[len(segs)-1])
	if err != nil {
		return "", xerrors.Errorf("invalid version %s: %w", v, err)
	}
	segs[len(segs)-1] = strconv.Itoa(last + 1)
	return strings.Join(segs, "."), nil
}

// FileVersion extracts the version from a wheel or source distribution file name
func FileVersion(fn string) string {
	if w, ok := ParseWheel(fn); ok {
		return w.Version
	}
	base := fn
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	for _, ext := range []string{".tar.gz", ".tar.bz2", ".zip"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			i := strings.LastIndex(base, "-")
			if i < 0 {
				return ""
			}
			return base[i+1:]
		}
	}
	return ""
}

// FilterFiles keeps the files whose version satisfies the constraint. Files whose
// version cannot be parsed are kept; pip has the final word on those.
func FilterFiles(files []string, c *semver.Constraints) []string {
	if c == nil {
		return files
	}

	res := make([]string, 0, len(files))
	for _, fn := range files {
		v, err := semver.NewVersion(FileVersion(fn))
		if err != nil || c.Check(v) {
			res = append(res, fn)
		}
	}
	return res
}
