package testdata

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	appErr "judgecore/pkg/errors"
)

// LocalDir reads cases from a directory, or from a .tar.zst data pack file.
type LocalDir struct {
	Path         string
	MaxCaseBytes int64
}

// Load implements Source.
func (d LocalDir) Load(ctx context.Context) ([]Case, error) {
	if d.Path == "" {
		return nil, appErr.ValidationError("testdata.path", "required")
	}
	if strings.HasSuffix(d.Path, packSuffix) {
		return d.loadPack(ctx)
	}
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.NotFound, "read testdata dir failed")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	files, err := pairFiles(names)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErr.Newf(appErr.NotFound, "no test cases in %s", d.Path)
	}

	cases := make([]Case, 0, len(files))
	for _, cf := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		input, err := d.readFile(cf.input)
		if err != nil {
			return nil, err
		}
		answer, err := d.readFile(cf.answer)
		if err != nil {
			return nil, err
		}
		cases = append(cases, Case{ID: cf.id, Input: input, Expected: string(answer)})
	}
	return cases, nil
}

func (d LocalDir) readFile(name string) ([]byte, error) {
	f, err := os.Open(filepath.Join(d.Path, name))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.NotFound, "open %s failed", name)
	}
	defer f.Close()
	return readAll(f, name, d.MaxCaseBytes)
}

func (d LocalDir) loadPack(ctx context.Context) ([]Case, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.NotFound, "open data pack failed")
	}
	defer f.Close()

	dir, err := os.MkdirTemp("", "judge-pack-")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create pack dir failed")
	}
	defer os.RemoveAll(dir)

	if err := ExtractPack(f, dir, d.MaxCaseBytes); err != nil {
		return nil, err
	}
	return LocalDir{Path: dir, MaxCaseBytes: d.MaxCaseBytes}.Load(ctx)
}
