package testdata

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	appErr "judgecore/pkg/errors"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of object storage used to fetch test data.
type ObjectStore interface {
	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// ListObjects returns every key under prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string        `yaml:"endpoint" toml:"endpoint"`
	AccessKey string        `yaml:"accessKey" toml:"access_key"`
	SecretKey string        `yaml:"secretKey" toml:"secret_key"`
	UseSSL    bool          `yaml:"useSSL" toml:"use_ssl"`
	Bucket    string        `yaml:"bucket" toml:"bucket"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// Enabled reports whether an endpoint is configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// MinIOStore implements ObjectStore using MinIO S3-compatible APIs.
type MinIOStore struct {
	core *minio.Core
}

// NewMinIOStore creates a store from cfg.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, appErr.ValidationError("minio.endpoint", "required")
	}
	if cfg.AccessKey == "" {
		return nil, appErr.ValidationError("minio.accessKey", "required")
	}
	if cfg.SecretKey == "" {
		return nil, appErr.ValidationError("minio.secretKey", "required")
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create minio core failed")
	}
	return &MinIOStore{core: core}, nil
}

// GetObject implements ObjectStore.
func (s *MinIOStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, _, _, err := s.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "minio get object failed")
	}
	return obj, nil
}

// ListObjects implements ObjectStore.
func (s *MinIOStore) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.core.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, appErr.Wrapf(obj.Err, appErr.StorageError, "minio list objects failed")
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// PutObject uploads size bytes from r under key.
func (s *MinIOStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if r == nil {
		return appErr.ValidationError("reader", "required")
	}
	if key == "" {
		return appErr.ValidationError("key", "required")
	}
	opts := minio.PutObjectOptions{}
	if contentType != "" {
		opts.ContentType = contentType
	}
	if _, err := s.core.PutObject(ctx, bucket, key, r, size, "", "", opts); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "minio put object failed")
	}
	return nil
}

// BucketExists reports whether the bucket is reachable.
func (s *MinIOStore) BucketExists(ctx context.Context, bucket string) error {
	ok, err := s.core.Client.BucketExists(ctx, bucket)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "minio bucket check failed")
	}
	if !ok {
		return appErr.Newf(appErr.StorageError, "bucket %s does not exist", bucket)
	}
	return nil
}

// ObjectSource reads cases stored under a prefix, or from a single .tar.zst data pack object.
type ObjectSource struct {
	Store        ObjectStore
	Bucket       string
	Prefix       string
	MaxCaseBytes int64
}

// Load implements Source.
func (s ObjectSource) Load(ctx context.Context) ([]Case, error) {
	if s.Store == nil {
		return nil, appErr.New(appErr.StorageError).WithMessage("object store is not initialized")
	}
	if s.Bucket == "" {
		return nil, appErr.ValidationError("testdata.bucket", "required")
	}
	if strings.HasSuffix(s.Prefix, packSuffix) {
		return s.loadPack(ctx)
	}

	keys, err := s.Store.ListObjects(ctx, s.Bucket, s.Prefix)
	if err != nil {
		return nil, err
	}
	files, err := pairFiles(keys)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErr.Newf(appErr.NotFound, "no test cases under %s/%s", s.Bucket, s.Prefix)
	}

	cases := make([]Case, 0, len(files))
	for _, cf := range files {
		input, err := s.fetch(ctx, cf.input)
		if err != nil {
			return nil, err
		}
		answer, err := s.fetch(ctx, cf.answer)
		if err != nil {
			return nil, err
		}
		cases = append(cases, Case{ID: cf.id, Input: input, Expected: string(answer)})
	}
	return cases, nil
}

func (s ObjectSource) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Store.GetObject(ctx, s.Bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readAll(rc, key, s.MaxCaseBytes)
}

func (s ObjectSource) loadPack(ctx context.Context) ([]Case, error) {
	rc, err := s.Store.GetObject(ctx, s.Bucket, s.Prefix)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dir, err := os.MkdirTemp("", "judge-pack-")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create pack dir failed")
	}
	defer os.RemoveAll(dir)

	if err := ExtractPack(rc, dir, s.MaxCaseBytes); err != nil {
		return nil, err
	}
	return LocalDir{Path: dir, MaxCaseBytes: s.MaxCaseBytes}.Load(ctx)
}
