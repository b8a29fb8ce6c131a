package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// LocalResolver resolves media keys to files under Root.
type LocalResolver struct {
	Root string
}

func (r LocalResolver) Resolve(_ context.Context, key string) (ChunkSource, error) {
	clean := filepath.Clean("/" + key)
	return NewFileSource(filepath.Join(r.Root, clean))
}

// S3Resolver resolves media keys to objects in Bucket, under Prefix.
type S3Resolver struct {
	API    S3API
	Bucket string
	Prefix string
}

func (r S3Resolver) Resolve(ctx context.Context, key string) (ChunkSource, error) {
	if r.Bucket == "" {
		return nil, fmt.Errorf("s3 resolver: bucket not configured")
	}
	full := strings.TrimPrefix(r.Prefix+strings.TrimPrefix(key, "/"), "/")
	return NewS3Source(ctx, r.API, r.Bucket, full)
}
