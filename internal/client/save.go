package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/logging"
)

// Saver writes generated files either to local paths or into a bucket.
type Saver struct {
	bucket *blob.Bucket
}

// OpenSaver returns a Saver for bucketURL ("file:///dir", "mem://", or any
// URL scheme registered with gocloud.dev/blob). An empty URL writes local
// paths directly.
func OpenSaver(ctx context.Context, bucketURL string) (*Saver, error) {
	if bucketURL == "" {
		return &Saver{}, nil
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		logging.Errorf("Can't open bucket reference @ %q: %v", bucketURL, err)
		return nil, fmt.Errorf("opening export bucket: %w", err)
	}
	return &Saver{bucket: bucket}, nil
}

// Save decodes resp and stores it under name, or under the server-supplied
// (or default) file name when name is empty. Only the base of a
// server-supplied name is used, so the service cannot pick a directory. It
// returns where the file went and its size.
func (s *Saver) Save(ctx context.Context, resp api.GenerationResponse, name string) (string, int, error) {
	data, err := resp.Bytes()
	if err != nil {
		return "", 0, err
	}
	if name == "" {
		name = serverFileName(resp.SaveName())
	}

	if s.bucket == nil {
		if dir := filepath.Dir(name); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", 0, fmt.Errorf("create output directory: %w", err)
			}
		}
		if err := os.WriteFile(name, data, 0644); err != nil {
			return "", 0, fmt.Errorf("write %s: %w", name, err)
		}
		return name, len(data), nil
	}

	key := filepath.ToSlash(name)
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/dicom"}); err != nil {
		return "", 0, fmt.Errorf("write %s to bucket: %w", key, err)
	}
	return key, len(data), nil
}

// serverFileName reduces a name chosen by the service to a plain file name.
func serverFileName(name string) string {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return api.DefaultFileName
	}
	return base
}

// Bucket returns the underlying bucket, or nil for local saves.
func (s *Saver) Bucket() *blob.Bucket { return s.bucket }

// Close releases the bucket.
func (s *Saver) Close() error {
	if s.bucket == nil {
		return nil
	}
	return s.bucket.Close()
}
