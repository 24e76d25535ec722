package storage

import (
	"context"
	"fmt"
	"time"

	"budget-go/internal/config"
)

// NewStoreFromConfig creates a Store backed by the medium named in cfg.
// The returned close function releases the medium and is never nil.
func NewStoreFromConfig(ctx context.Context, cfg config.StorageConfig, prefix string) (*Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(prefix, cfg.CapacityBytes), noop, nil
	case "filesystem":
		if cfg.FSDir == "" {
			return nil, nil, fmt.Errorf("filesystem storage requires fs_dir to be set")
		}
		s, err := NewFileSystemStore(cfg.FSDir, prefix, cfg.CapacityBytes)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, nil, fmt.Errorf("sqlite storage requires sqlite_path to be set")
		}
		return NewSQLiteStore(cfg.SQLitePath, prefix, cfg.CapacityBytes)
	case "s3":
		s, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
			Timeout:         time.Duration(cfg.S3TimeoutMS) * time.Millisecond,
		}, prefix, cfg.CapacityBytes)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
