package testdata

import (
	"archive/tar"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	appErr "judgecore/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// ExtractPack unpacks a zstd-compressed tar stream into dstDir.
// Only directories and regular files are written; entries escaping dstDir are rejected.
// No file may decode to more than limit bytes; limit <= 0 means DefaultMaxCaseBytes.
func ExtractPack(r io.Reader, dstDir string, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxCaseBytes
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "create zstd reader failed")
	}
	defer zr.Close()

	root := filepath.Clean(dstDir) + string(filepath.Separator)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		name := filepath.Clean(hdr.Name)
		if !filepath.IsLocal(name) {
			return appErr.Newf(appErr.InvalidFormat, "invalid tar entry path %q", hdr.Name)
		}
		target := filepath.Join(dstDir, name)
		if !strings.HasPrefix(target, root) {
			return appErr.Newf(appErr.InvalidFormat, "tar entry %q escapes the pack dir", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.StorageError, "create dir failed")
			}
		case tar.TypeReg:
			if hdr.Size > limit {
				return appErr.Newf(appErr.InvalidValue, "%s exceeds %d bytes", hdr.Name, limit)
			}
			if err := writeEntry(tr, target, fs.FileMode(hdr.Mode).Perm()|0o600, limit); err != nil {
				return err
			}
		}
	}
}

// WritePack writes every regular file under srcDir as a zstd-compressed tar
// stream readable by ExtractPack. Entries are written in lexical order.
func WritePack(w io.Writer, srcDir string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create zstd writer failed")
	}
	tw := tar.NewWriter(zw)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name:     filepath.ToSlash(rel),
			Mode:     int64(info.Mode().Perm()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = zw.Close()
		return appErr.Wrapf(walkErr, appErr.StorageError, "write data pack failed")
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return appErr.Wrapf(err, appErr.StorageError, "close tar writer failed")
	}
	if err := zw.Close(); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "close zstd writer failed")
	}
	return nil
}

func writeEntry(r io.Reader, target string, perm fs.FileMode, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create parent dir failed")
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create file failed")
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		_ = f.Close()
		return appErr.Wrapf(err, appErr.StorageError, "write file failed")
	}
	if n > limit {
		_ = f.Close()
		return appErr.Newf(appErr.InvalidValue, "%s exceeds %d bytes", filepath.Base(target), limit)
	}
	if err := f.Close(); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "close file failed")
	}
	return nil
}
