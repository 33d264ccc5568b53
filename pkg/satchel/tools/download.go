package tools

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// ArchiveType is the packaging of a download
type ArchiveType string

const (
	// TarGz archives are extracted
	TarGz ArchiveType = "tar.gz"
	// Zip archives are extracted
	Zip ArchiveType = "zip"
	// Binary downloads are the executable itself
	Binary ArchiveType = "binary"
)

// Download describes an installable tool release
type Download struct {
	URL     string
	Version string
	// SHA256 is verified if set
	SHA256  string
	Archive ArchiveType
	// Executable is the slash-separated path of the executable inside the installation
	Executable string
	// StripComponents drops leading path elements of extracted files
	StripComponents int
}

// install downloads a tool into the cache unless it is already there
func (r *Registry) install(ctx context.Context, t *Tool, d *Download) (string, error) {
	if r.Cache == nil {
		return "", &satchel.ToolNotFoundError{Tool: t.Name, Remediation: t.Remediation}
	}

	final, exists := r.Cache.Location(t.Name, d.Version)
	if exists {
		return final, nil
	}

	log.WithField("tool", t.Name).WithField("version", d.Version).Info("installing tool")
	staging, err := os.MkdirTemp(filepath.Dir(final), ".staging-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "download")
	err = r.download(ctx, d, archive)
	if err != nil {
		return "", &satchel.ToolNotFoundError{
			Tool:        t.Name,
			Remediation: fmt.Sprintf("Downloading %s failed: %v\n%s", d.URL, err, t.Remediation),
		}
	}

	content := filepath.Join(staging, "content")
	err = extract(archive, content, d)
	if err != nil {
		return "", xerrors.Errorf("cannot extract %s: %w", t.Name, err)
	}

	err = os.Rename(content, final)
	if err != nil {
		// someone else may have installed the same version in the meantime
		if _, exists := r.Cache.Location(t.Name, d.Version); exists {
			log.WithField("tool", t.Name).Debug("tool was installed concurrently")
			return final, nil
		}
		return "", xerrors.Errorf("cannot install %s: %w", t.Name, err)
	}
	return final, nil
}

func (r *Registry) download(ctx context.Context, d *Download, dst string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	hash := sha256.New()
	_, err = io.Copy(io.MultiWriter(f, hash), resp.Body)
	if err != nil {
		return err
	}

	if d.SHA256 != "" {
		sum := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(sum, d.SHA256) {
			return xerrors.Errorf("checksum mismatch: expected %s, got %s", d.SHA256, sum)
		}
	}
	return nil
}

func extract(archive, dst string, d *Download) error {
	switch d.Archive {
	case TarGz:
		return extractTarGz(archive, dst, d.StripComponents)
	case Zip:
		return extractZip(archive, dst, d.StripComponents)
	case Binary, "":
		target := filepath.Join(dst, filepath.FromSlash(d.Executable))
		err := os.MkdirAll(filepath.Dir(target), 0755)
		if err != nil {
			return err
		}
		err = os.Rename(archive, target)
		if err != nil {
			return err
		}
		return os.Chmod(target, 0755)
	default:
		return xerrors.Errorf("unsupported archive type %s", d.Archive)
	}
}

// entryPath maps an archive entry into dst, refusing entries that would escape it
func entryPath(dst, name string, strip int) (string, bool, error) {
	segs := strings.Split(strings.Trim(filepath.ToSlash(name), "/"), "/")
	if len(segs) <= strip {
		return "", false, nil
	}
	rel := filepath.FromSlash(strings.Join(segs[strip:], "/"))
	target := filepath.Join(dst, rel)
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(filepath.Separator)) {
		return "", false, xerrors.Errorf("archive entry %s escapes the installation directory", name)
	}
	return target, true, nil
}

// checkNoSymlinks makes sure nothing between dst and target is a symlink, so that an
// entry cannot be written outside dst through a link an earlier entry created
func checkNoSymlinks(dst, target string) error {
	rel, err := filepath.Rel(dst, target)
	if err != nil {
		return err
	}
	p := filepath.Clean(dst)
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		p = filepath.Join(p, seg)
		stat, err := os.Lstat(p)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if stat.Mode()&os.ModeSymlink != 0 {
			return xerrors.Errorf("archive entry %s would be written through the symlink %s", target, p)
		}
	}
	return nil
}

// checkLinkTarget refuses symlinks which point outside dst
func checkLinkTarget(dst, target, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(filepath.ToSlash(linkname), "/") {
		return xerrors.Errorf("archive entry %s links to the absolute path %s", target, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	if !strings.HasPrefix(resolved, filepath.Clean(dst)+string(filepath.Separator)) {
		return xerrors.Errorf("archive entry %s links to %s outside the installation directory", target, linkname)
	}
	return nil
}

func extractTarGz(archive, dst string, strip int) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, ok, err := entryPath(dst, hdr.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		err = checkNoSymlinks(dst, target)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0755)
		case tar.TypeSymlink:
			err = checkLinkTarget(dst, target, hdr.Linkname)
			if err == nil {
				err = os.MkdirAll(filepath.Dir(target), 0755)
			}
			if err == nil {
				err = os.Symlink(hdr.Linkname, target)
			}
		case tar.TypeReg:
			err = writeFile(target, tr, os.FileMode(hdr.Mode).Perm())
		}
		if err != nil {
			return err
		}
	}
}

func extractZip(archive, dst string, strip int) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, ok, err := entryPath(dst, zf.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		err = checkNoSymlinks(dst, target)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			err = os.MkdirAll(target, 0755)
			if err != nil {
				return err
			}
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return err
		}
		mode := zf.Mode().Perm()
		if runtime.GOOS != "windows" && mode&0111 == 0 && strings.Contains(zf.Name, "/bin/") {
			mode |= 0755
		}
		err = writeFile(target, rc, mode)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	err := os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
