package vector

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// staging collects the files of one output in a private directory until
// they are complete. commit moves sidecars first and the main file last, so
// a reader that waits for the main file never sees a partial output.
type staging struct {
	dir     string
	destDir string
	base    string
	ext     string

	sidecars []string
	obsolete []string
}

func newStaging(dest, tempDir string) (*staging, error) {
	destDir := filepath.Dir(dest)
	fi, err := os.Stat(destDir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", destDir)
	}
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", dest)
	}

	parent := tempDir
	if parent == "" {
		parent = destDir
	}
	dir, err := os.MkdirTemp(parent, ".meridianshift-")
	if err != nil {
		return nil, err
	}

	base := filepath.Base(dest)
	ext := filepath.Ext(base)
	return &staging{
		dir:     dir,
		destDir: destDir,
		base:    strings.TrimSuffix(base, ext),
		ext:     ext,
	}, nil
}

// main returns the staged path of the main file.
func (s *staging) main() string {
	return filepath.Join(s.dir, s.base+s.ext)
}

// sidecar registers and returns the staged path of a companion file.
func (s *staging) sidecar(ext string) string {
	s.sidecars = append(s.sidecars, ext)
	return filepath.Join(s.dir, s.base+ext)
}

// drop marks a companion file that must not survive from an earlier output
// at the destination.
func (s *staging) drop(ext string) {
	s.obsolete = append(s.obsolete, ext)
}

// commit moves the staged files into place. Regular files they replace are
// set aside first and put back when a later move fails, so a failed commit
// leaves an earlier output as it was.
func (s *staging) commit() error {
	var (
		moved   []string
		backups [][2]string
		bakDir  string
	)
	backup := func(dst string) error {
		fi, err := os.Lstat(dst)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if bakDir == "" {
			if bakDir, err = os.MkdirTemp(s.destDir, ".meridianshift-bak-"); err != nil {
				return err
			}
		}
		b := filepath.Join(bakDir, filepath.Base(dst))
		if err := os.Rename(dst, b); err != nil {
			return err
		}
		backups = append(backups, [2]string{dst, b})
		return nil
	}
	rollback := func() {
		for _, m := range moved {
			_ = os.Remove(m)
		}
		for _, b := range backups {
			_ = os.Rename(b[1], b[0])
		}
		if bakDir != "" {
			_ = os.RemoveAll(bakDir)
		}
	}

	for _, ext := range append(s.sidecars, s.ext) {
		src := filepath.Join(s.dir, s.base+ext)
		dst := filepath.Join(s.destDir, s.base+ext)
		if err := backup(dst); err != nil {
			rollback()
			return err
		}
		if err := move(src, dst); err != nil {
			rollback()
			return err
		}
		moved = append(moved, dst)
	}
	for _, ext := range s.obsolete {
		if err := backup(filepath.Join(s.destDir, s.base+ext)); err != nil {
			rollback()
			return err
		}
	}
	if bakDir != "" {
		_ = os.RemoveAll(bakDir)
	}
	return nil
}

func (s *staging) cleanup() {
	_ = os.RemoveAll(s.dir)
}

// move renames src to dst. When both are on different file systems the
// content is copied next to dst first and then renamed over it.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
