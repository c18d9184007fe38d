package lode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Backend kinds.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Backend locates a dataset: a local directory, or an S3 bucket with an
// optional key prefix. S3 credentials come from the AWS default chain.
type Backend struct {
	Kind string
	// Root is the directory for fs and "bucket[/prefix]" for s3.
	Root string
	// S3 only.
	Region    string
	Endpoint  string // R2, MinIO and other S3-compatible hosts
	PathStyle bool
}

// Validate checks the kind and root.
func (b Backend) Validate() error {
	switch b.Kind {
	case BackendFS:
	case BackendS3:
		if bucket, _ := SplitS3Root(b.Root); bucket == "" {
			return errors.New("S3 bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q (must be fs or s3)", b.Kind)
	}
	if b.Root == "" {
		return errors.New("fs storage requires a root directory")
	}
	return nil
}

// SplitS3Root splits "bucket/prefix" at the first slash.
func SplitS3Root(root string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(root, "/")
	return bucket, prefix
}

// Factory returns the store factory for the backend.
func (b Backend) Factory(ctx context.Context) (lode.StoreFactory, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Kind == BackendFS {
		return lode.NewFSFactory(b.Root), nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if b.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(b.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if b.Endpoint != "" {
			o.BaseEndpoint = &b.Endpoint
		}
		o.UsePathStyle = b.PathStyle
	})

	bucket, prefix := SplitS3Root(b.Root)
	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: bucket, Prefix: prefix})
	}, nil
}

// Locate renders a dataset-relative path as a file:// or s3:// URI.
func (b Backend) Locate(rel string) string {
	switch b.Kind {
	case BackendFS:
		root, err := filepath.Abs(b.Root)
		if err != nil {
			root = b.Root
		}
		return "file://" + filepath.ToSlash(filepath.Join(root, rel))
	case BackendS3:
		return "s3://" + strings.TrimSuffix(b.Root, "/") + "/" + rel
	default:
		return rel
	}
}

// Open creates the write client for cfg's partition on the backend.
// An fs root is created if missing.
func Open(ctx context.Context, cfg Config, b Backend) (*LodeClient, error) {
	if b.Kind == BackendFS && b.Root != "" {
		if err := os.MkdirAll(b.Root, 0o755); err != nil {
			return nil, WrapInitError(err, cfg.Dataset)
		}
	}
	factory, err := b.Factory(ctx)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return NewLodeClientWithFactory(cfg, factory)
}

// OpenReadDataset opens a dataset for queries with the write path's layout.
func OpenReadDataset(ctx context.Context, dataset string, b Backend) (lode.Dataset, error) {
	factory, err := b.Factory(ctx)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return NewReadDataset(dataset, factory)
}

// NewReadDataset opens a dataset on an existing factory.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := newDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}
