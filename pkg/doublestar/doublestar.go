// Package doublestar matches slash-separated paths against patterns that
// may contain ** to span any number of path segments.
package doublestar

import (
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// IgnoreFunc checks if a path ought to be ignored
type IgnoreFunc func(path string) bool

// IgnoreNone ignores nothing
var IgnoreNone IgnoreFunc = func(path string) bool { return false }

// IgnoreStrings ignores all paths which contain one of the ignores substrings
func IgnoreStrings(ignores []string) IgnoreFunc {
	return func(path string) bool {
		for _, ptn := range ignores {
			if ptn == "" {
				continue
			}
			if strings.Contains(path, ptn) {
				return true
			}
		}
		return false
	}
}

// Glob finds all paths below base that match the pattern and not the ignore func.
// Patterns are relative to base. Once a directory matches its content is not
// reported separately, so every path in the result can be removed independently.
// Symbolic links are not followed.
func Glob(base, pattern string, ignore IgnoreFunc) ([]string, error) {
	var res []string
	err := godirwalk.Walk(base, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == base {
				return nil
			}
			if ignore != nil && ignore(osPathname) {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}

			rel, err := filepath.Rel(base, osPathname)
			if err != nil {
				return err
			}
			m, skipSubDirs, err := Match(pattern, rel)
			if err != nil {
				return err
			}
			if m {
				res = append(res, osPathname)
			}
			if (m || skipSubDirs) && de.IsDir() {
				return godirwalk.SkipThis
			}
			return nil
		},
		Unsorted: true,
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Match matches the same patterns as filepath.Match except it can also match
// an arbitrary number of path segments using **. If skipSubDirs is true no path
// below path can match either.
func Match(pattern, path string) (matches bool, skipSubDirs bool, err error) {
	if path == pattern {
		return true, false, nil
	}

	var (
		patterns = strings.Split(filepath.ToSlash(pattern), "/")
		paths    = strings.Split(filepath.ToSlash(path), "/")
	)
	return match(patterns, paths)
}

func match(patterns, paths []string) (matches bool, skipSubDirs bool, err error) {
	var pathIndex int
	for patternIndex := 0; patternIndex < len(patterns); patternIndex++ {
		pattern := patterns[patternIndex]
		if pathIndex >= len(paths) {
			// the path ran out before the pattern did; deeper paths may still match
			return false, false, nil
		}

		path := paths[pathIndex]
		if pattern == path {
			pathIndex++
			continue
		}

		if pattern == "**" {
			if patternIndex == len(patterns)-1 {
				// a trailing ** consumes the remainder of the path
				return true, false, nil
			}

			if patterns[patternIndex+1] == "**" {
				continue
			}

			// try the remaining pattern against every suffix of the path
			for pi := pathIndex; pi < len(paths); pi++ {
				m, _, err := match(patterns[patternIndex+1:], paths[pi:])
				if err != nil {
					return false, false, err
				}
				if m {
					return true, false, nil
				}
			}
			return false, false, nil
		}

		m, err := filepath.Match(pattern, path)
		if err != nil {
			return false, false, err
		}
		if m {
			pathIndex++
			continue
		}

		// pattern and path diverge, nothing below path can match
		return false, true, nil
	}

	return pathIndex == len(paths), false, nil
}
