// Package testdata loads test cases from local directories, data packs and object storage.
//
// A case set is a flat list of files named <id>.in and <id>.out (or <id>.ans).
// Any file may carry a .zst suffix and is decompressed transparently.
package testdata

import (
	"bytes"
	"context"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	appErr "judgecore/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	zstdSuffix = ".zst"
	packSuffix = ".tar.zst"

	// DefaultMaxCaseBytes bounds one decoded input or answer file.
	DefaultMaxCaseBytes = 256 << 20
)

// Case is one test: program input and the expected answer.
type Case struct {
	ID       string
	Input    []byte
	Expected string
}

// Source yields the cases of one problem.
type Source interface {
	Load(ctx context.Context) ([]Case, error)
}

type caseFiles struct {
	id     string
	input  string
	answer string
}

// pairFiles groups file names into cases. Inputs without an answer are rejected.
func pairFiles(names []string) ([]caseFiles, error) {
	byID := make(map[string]*caseFiles)
	for _, name := range names {
		base := strings.TrimSuffix(path.Base(name), zstdSuffix)
		ext := path.Ext(base)
		id := strings.TrimSuffix(base, ext)
		if id == "" {
			continue
		}
		var isInput bool
		switch ext {
		case ".in":
			isInput = true
		case ".out", ".ans":
		default:
			continue
		}
		cf, ok := byID[id]
		if !ok {
			cf = &caseFiles{id: id}
			byID[id] = cf
		}
		if isInput {
			cf.input = name
		} else {
			cf.answer = name
		}
	}

	out := make([]caseFiles, 0, len(byID))
	for _, cf := range byID {
		if cf.input == "" {
			return nil, appErr.Newf(appErr.InvalidFormat, "case %s has an answer but no input", cf.id)
		}
		if cf.answer == "" {
			return nil, appErr.Newf(appErr.InvalidFormat, "case %s has an input but no answer", cf.id)
		}
		out = append(out, *cf)
	}
	slices.SortFunc(out, func(a, b caseFiles) int { return compareIDs(a.id, b.id) })
	return out, nil
}

// compareIDs orders numeric ids by value and everything else lexically after them.
func compareIDs(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai - bi
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// readAll reads r, decompressing when name ends in .zst, and enforces limit.
func readAll(r io.Reader, name string, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxCaseBytes
	}
	if strings.HasSuffix(name, zstdSuffix) {
		dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(uint64(limit)))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidFormat, "create zstd reader failed")
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "read %s failed", name)
	}
	if int64(len(data)) > limit {
		return nil, appErr.Newf(appErr.InvalidValue, "%s exceeds %d bytes", name, limit)
	}
	return data, nil
}

// Compress encodes data with zstd. It is the inverse of the transparent
// decompression applied to .zst files.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create zstd writer failed")
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "zstd encode failed")
	}
	if err := enc.Close(); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "zstd encode failed")
	}
	return buf.Bytes(), nil
}
