package satchel

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/minio/highwayhash"
	"golang.org/x/sync/errgroup"
)

// fingerprintKey is the key we hash with. Changing it invalidates every recorded fingerprint.
const fingerprintKey = "6c8e2b8a1f03d4f2a9f3c7e51b4d0a6e9e2f8d7c3b1a5f6e4d2c0b9a8f7e6d5c"

const fingerprintWorkers = 8

func newHash() (hash.Hash, error) {
	key, err := hex.DecodeString(fingerprintKey)
	if err != nil {
		return nil, err
	}
	return highwayhash.New(key)
}

// ScaffoldFingerprint hashes every file below dir except satchel's own bookkeeping.
// The result only depends on relative paths and file contents.
func ScaffoldFingerprint(dir string) (string, error) {
	var files []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == StateDir {
					return filepath.SkipDir
				}
				return nil
			}
			files = append(files, osPathname)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	manifest := make([]string, len(files))
	var eg errgroup.Group
	eg.SetLimit(fingerprintWorkers)
	for i, fn := range files {
		i, fn := i, fn
		eg.Go(func() error {
			h, err := hashFile(fn)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, fn)
			if err != nil {
				return err
			}
			manifest[i] = fmt.Sprintf("%s:%s", filepath.ToSlash(rel), h)
			return nil
		})
	}
	err = eg.Wait()
	if err != nil {
		return "", err
	}

	return hashStrings(manifest)
}

// RequirementsFingerprint hashes the ordered requirement set together with what it is installed for
func RequirementsFingerprint(requires []string, target TargetPlatform) (string, error) {
	in := make([]string, 0, len(requires)+len(target.Indexes)+len(target.PipArgs)+1)
	in = append(in, "target:"+target.Name)
	for _, idx := range target.Indexes {
		in = append(in, "index:"+idx)
	}
	for _, arg := range target.PipArgs {
		in = append(in, "arg:"+arg)
	}
	for _, r := range requires {
		in = append(in, "req:"+r)
	}
	return hashStrings(in)
}

func hashFile(fn string) (string, error) {
	f, err := os.Open(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := newHash()
	if err != nil {
		return "", err
	}
	_, err = io.Copy(h, f)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashStrings(in []string) (string, error) {
	h, err := newHash()
	if err != nil {
		return "", err
	}
	_, err = io.WriteString(h, strings.Join(in, "\n"))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
