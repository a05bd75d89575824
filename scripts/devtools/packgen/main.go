// Command packgen bundles a test case directory into a .tar.zst data pack and
// optionally uploads it to MinIO.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"judgecore/internal/judge/testdata"
)

func main() {
	srcDir := flag.String("src", "", "Directory holding <id>.in and <id>.out files")
	output := flag.String("out", "", "Output pack path (default: <src>.tar.zst)")
	endpoint := flag.String("endpoint", os.Getenv("JUDGE_MINIO_ENDPOINT"), "MinIO endpoint; upload is skipped when empty")
	bucket := flag.String("bucket", os.Getenv("JUDGE_MINIO_BUCKET"), "Target bucket")
	key := flag.String("key", "", "Object key (default: pack file name)")
	useSSL := flag.Bool("ssl", false, "Use TLS for MinIO")
	flag.Parse()

	if *srcDir == "" {
		fmt.Fprintln(os.Stderr, "src directory is required")
		os.Exit(1)
	}
	if *output == "" {
		*output = filepath.Clean(*srcDir) + ".tar.zst"
	}

	// load before packing so a malformed directory never ships
	cases, err := testdata.LocalDir{Path: *srcDir}.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "read test cases failed: %v\n", err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	if err := testdata.WritePack(&buf, *srcDir); err != nil {
		fmt.Fprintf(os.Stderr, "build pack failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*output, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write pack failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("packed %d cases into %s (%d bytes)\n", len(cases), *output, buf.Len())

	if *endpoint == "" {
		return
	}
	store, err := testdata.NewMinIOStore(testdata.MinIOConfig{
		Endpoint:  *endpoint,
		AccessKey: os.Getenv("JUDGE_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("JUDGE_MINIO_SECRET_KEY"),
		UseSSL:    *useSSL,
		Bucket:    *bucket,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init minio failed: %v\n", err)
		os.Exit(1)
	}
	if *key == "" {
		*key = filepath.Base(*output)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := store.BucketExists(ctx, *bucket); err != nil {
		fmt.Fprintf(os.Stderr, "check bucket failed: %v\n", err)
		os.Exit(1)
	}
	if err := store.PutObject(ctx, *bucket, *key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/zstd"); err != nil {
		fmt.Fprintf(os.Stderr, "upload pack failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("uploaded %s/%s\n", *bucket, *key)
}
