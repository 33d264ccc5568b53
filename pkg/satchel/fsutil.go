package satchel

import (
	"io"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
)

// CopyTree copies a file or directory tree to dst. Symlinks are copied as links.
func CopyTree(src, dst string) error {
	stat, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return copyFile(src, dst, stat.Mode())
	}

	return godirwalk.Walk(src, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(src, osPathname)
			if err != nil {
				return err
			}
			target := filepath.Join(dst, rel)

			switch {
			case de.IsDir():
				return os.MkdirAll(target, 0755)
			case de.IsSymlink():
				link, err := os.Readlink(osPathname)
				if err != nil {
					return err
				}
				return os.Symlink(link, target)
			default:
				info, err := os.Stat(osPathname)
				if err != nil {
					return err
				}
				return copyFile(osPathname, target, info.Mode())
			}
		},
		Unsorted: true,
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	err = os.MkdirAll(filepath.Dir(dst), 0755)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
