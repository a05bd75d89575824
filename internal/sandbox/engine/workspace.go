package engine

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	appErr "judgecore/pkg/errors"
)

// Scratch is a private copy of an artifact directory owned by one run.
type Scratch struct {
	Dir       string
	closeOnce sync.Once
	closeErr  error
}

// NewScratch creates a fresh directory under root (the OS temp dir when empty)
// and copies artifactDir into it. Paths matching an exclude pattern, relative
// to artifactDir, are not copied.
func NewScratch(root, runID, artifactDir string, exclude []string) (*Scratch, error) {
	for _, pattern := range exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidParams, "bad exclude pattern %q", pattern)
		}
	}
	info, err := os.Stat(artifactDir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ArtifactNotFound, "stat artifact dir failed")
	}
	if !info.IsDir() {
		return nil, appErr.Newf(appErr.ArtifactNotFound, "artifact path %s is not a directory", artifactDir)
	}
	dir, err := os.MkdirTemp(root, "run-"+runID+"-")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir failed")
	}
	s := &Scratch{Dir: dir}
	if err := copyTree(artifactDir, dir, exclude); err != nil {
		_ = s.Close()
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "copy artifact failed")
	}
	// the sandboxed program may run under a different uid view
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = s.Close()
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "chmod scratch dir failed")
	}
	return s, nil
}

// Close removes the scratch directory. Safe to call more than once.
func (s *Scratch) Close() error {
	s.closeOnce.Do(func() {
		if err := os.RemoveAll(s.Dir); err != nil {
			// programs may strip permissions from what they created
			_ = filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
				if d != nil && d.IsDir() {
					_ = os.Chmod(path, 0o700)
				}
				return nil
			})
			if err := os.RemoveAll(s.Dir); err != nil {
				s.closeErr = appErr.Wrapf(err, appErr.JudgeSystemError, "remove scratch dir failed")
			}
		}
	})
	return s.closeErr
}

// Collect copies the regular files matching the glob patterns from the
// scratch dir into dst, keeping their relative paths. Patterns with no match
// are skipped; symlinks and other special files are refused.
func (s *Scratch) Collect(dst string, patterns []string) error {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(s.Dir, pattern))
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidParams, "bad collect pattern %q", pattern)
		}
		for _, src := range matches {
			if err := s.collectFile(dst, src); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scratch) collectFile(dst, src string) error {
	rel, err := filepath.Rel(s.Dir, src)
	if err != nil || !filepath.IsLocal(rel) {
		return appErr.Newf(appErr.JudgeSystemError, "collected path %s escapes the scratch dir", src)
	}
	info, err := os.Lstat(src)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "stat collected file failed")
	}
	if !info.Mode().IsRegular() {
		return appErr.Newf(appErr.JudgeSystemError, "collected path %s is not a regular file", rel)
	}
	target := filepath.Join(dst, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "create collect dir failed")
	}
	if err := copyFile(src, target, info.Mode().Perm()); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "collect %s failed", rel)
	}
	return nil
}

func copyTree(src, dst string, exclude []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

// excluded matches rel against the patterns by full relative path and, for
// patterns without a separator, by base name at any depth.
func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		pattern = filepath.Clean(pattern)
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if !strings.ContainsRune(pattern, filepath.Separator) {
			if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
				return true
			}
		}
	}
	return false
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
