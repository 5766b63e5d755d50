package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/content"
	contentBadger "github.com/marmos91/siafuse/pkg/content/badger"
	contentBolt "github.com/marmos91/siafuse/pkg/content/bolt"
	contentFs "github.com/marmos91/siafuse/pkg/content/fs"
	contentMemory "github.com/marmos91/siafuse/pkg/content/memory"
	contentS3 "github.com/marmos91/siafuse/pkg/content/s3"
	"github.com/marmos91/siafuse/pkg/metrics"
	"github.com/marmos91/siafuse/pkg/vfs"
)

// CreateContentStore creates a content store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/content/memory (ephemeral)
//   - "filesystem": Uses pkg/content/fs (one file per blob)
//   - "badger": Uses pkg/content/badger (chunked BadgerDB)
//   - "bolt": Uses pkg/content/bolt (chunked bbolt file)
//   - "s3": Uses pkg/content/s3 (Amazon S3 or compatible storage)
//
// Returns:
//   - content.Store: Initialized content store. Stores holding resources also
//     implement io.Closer.
//   - error: Configuration or initialization error
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return createMemoryContentStore(ctx, cfg.Memory)
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "badger":
		return createBadgerContentStore(ctx, cfg.Badger)
	case "bolt":
		return createBoltContentStore(ctx, cfg.Bolt)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q (supported: memory, filesystem, badger, bolt, s3)", cfg.Type)
	}
}

// decodeOptions decodes a store option map, accepting duration strings.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// createMemoryContentStore creates an in-memory content store.
func createMemoryContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type MemoryContentStoreOptions struct {
		MaxBlobSize uint64 `mapstructure:"max_blob_size"`
	}

	var storeOpts MemoryContentStoreOptions
	if err := decodeOptions(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store options: %w", err)
	}

	store, err := contentMemory.NewMemoryContentStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory content store: %w", err)
	}
	store.SetMaxBlobSize(storeOpts.MaxBlobSize)

	logger.Info("Memory content store initialized: max_blob_size=%d", storeOpts.MaxBlobSize)
	return store, nil
}

// createFilesystemContentStore creates a filesystem-based content store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type FilesystemContentStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	logger.Info("Filesystem content store initialized: path=%s", storeCfg.Path)
	return store, nil
}

// createBadgerContentStore creates a BadgerDB-backed content store.
func createBadgerContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type BadgerContentStoreOptions struct {
		Path             string `mapstructure:"path"`
		InMemory         bool   `mapstructure:"in_memory"`
		BlockCacheSizeMB int64  `mapstructure:"block_cache_mb"`
		ChunkSize        int    `mapstructure:"chunk_size"`
	}

	var storeOpts BadgerContentStoreOptions
	if err := decodeOptions(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger content store options: %w", err)
	}

	if storeOpts.Path == "" && !storeOpts.InMemory {
		return nil, fmt.Errorf("badger content store: path is required")
	}

	store, err := contentBadger.NewBadgerContentStore(ctx, contentBadger.BadgerContentStoreConfig{
		Path:             storeOpts.Path,
		InMemory:         storeOpts.InMemory,
		BlockCacheSizeMB: storeOpts.BlockCacheSizeMB,
		ChunkSize:        storeOpts.ChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger content store: %w", err)
	}

	logger.Info("Badger content store initialized: path=%s in_memory=%v", storeOpts.Path, storeOpts.InMemory)
	return store, nil
}

// createBoltContentStore creates a bbolt-backed content store.
func createBoltContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type BoltContentStoreOptions struct {
		Path      string        `mapstructure:"path"`
		Timeout   time.Duration `mapstructure:"timeout"`
		ChunkSize int           `mapstructure:"chunk_size"`
	}

	var storeOpts BoltContentStoreOptions
	if err := decodeOptions(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode bolt content store options: %w", err)
	}

	if storeOpts.Path == "" {
		return nil, fmt.Errorf("bolt content store: path is required")
	}

	store, err := contentBolt.NewBoltContentStore(ctx, contentBolt.BoltContentStoreConfig{
		Path:      storeOpts.Path,
		Timeout:   storeOpts.Timeout,
		ChunkSize: storeOpts.ChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt content store: %w", err)
	}

	logger.Info("Bolt content store initialized: path=%s", storeOpts.Path)
	return store, nil
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type S3ContentStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3ContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storeCfg.AccessKeyID, storeCfg.SecretAccessKey, ""),
		))
	}

	// Every kernel read and write can reach S3, so retry transient failures
	// well beyond the SDK default of 3 attempts.
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO, Localstack and friends need path-style addressing
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Content Store
	// ========================================================================

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateDispatcher builds the filesystem engine on top of store.
//
// Parameters:
//   - cfg: The complete configuration (vfs section is used)
//   - store: Content store holding file data
//   - m: Engine metrics (nil = no metrics)
func CreateDispatcher(cfg *Config, store content.Store, m metrics.VFSMetrics) (*vfs.Dispatcher, error) {
	d, err := vfs.New(vfs.Config{
		Content:       store,
		RootMode:      cfg.VFS.Root.Mode,
		RootUID:       cfg.VFS.Root.UID,
		RootGID:       cfg.VFS.Root.GID,
		MaxNameLength: cfg.VFS.MaxNameLength,
		MaxFileSize:   cfg.VFS.MaxFileSize,
		Metrics:       m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	logger.Info("Filesystem engine ready: root mode=%04o uid=%s gid=%s max_name_length=%d max_file_size=%d",
		cfg.VFS.Root.Mode, formatID(cfg.VFS.Root.UID), formatID(cfg.VFS.Root.GID), cfg.VFS.MaxNameLength, cfg.VFS.MaxFileSize)
	return d, nil
}

func formatID(id *uint32) string {
	if id == nil {
		return "process"
	}
	return fmt.Sprint(*id)
}
