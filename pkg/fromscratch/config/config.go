// Package config loads server configuration from the environment and
// assembles the service and its backends from it.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
	"github.com/fromscratch/from-scratch/pkg/fromscratch/geo"
	"github.com/fromscratch/from-scratch/pkg/fromscratch/ratelimit"
	memoryrepo "github.com/fromscratch/from-scratch/pkg/fromscratch/repo/memory"
	mongorepo "github.com/fromscratch/from-scratch/pkg/fromscratch/repo/mongo"
	postgresrepo "github.com/fromscratch/from-scratch/pkg/fromscratch/repo/postgres"
	"github.com/fromscratch/from-scratch/pkg/fromscratch/sink"
	fsstorage "github.com/fromscratch/from-scratch/pkg/fromscratch/storage/fs"
	memorystorage "github.com/fromscratch/from-scratch/pkg/fromscratch/storage/memory"
	s3storage "github.com/fromscratch/from-scratch/pkg/fromscratch/storage/s3"
)

// Config is the full server configuration, read from the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	Host        string `env:"HOST" env-default:"0.0.0.0"`
	Port        int    `env:"PORT" env-default:"8080"`
	BaseURL     string `env:"BASE_URL" env-default:"http://localhost:8080"`

	// DatabaseURL selects the repository backend by scheme:
	// "memory", "mongodb://..." or "postgres://...".
	DatabaseURL string `env:"DATABASE_URL" env-default:"memory"`
	MongoDBName string `env:"MONGO_DB_NAME" env-default:"fromscratch"`

	// StorageURL selects the media backend: "memory", "file:///path" or
	// "s3://bucket".
	StorageURL       string `env:"STORAGE_URL" env-default:"memory"`
	MediaDir         string `env:"MEDIA_DIR" env-default:"./media"`
	S3Region         string `env:"S3_REGION" env-default:""`
	S3Endpoint       string `env:"S3_ENDPOINT" env-default:""`
	S3AccessKey      string `env:"S3_ACCESS_KEY" env-default:""`
	S3SecretKey      string `env:"S3_SECRET_KEY" env-default:""`
	S3UsePathStyle   bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	MediaPublicURL   string `env:"MEDIA_PUBLIC_URL" env-default:""`

	// RedisURL, when set, moves rate limiting off the primary store.
	RedisURL string `env:"REDIS_URL" env-default:""`

	// KafkaBrokers, when set, streams accepted events to KafkaTopic.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	KafkaTopic   string `env:"KAFKA_TOPIC" env-default:"analytics-events"`

	// GeoEndpoint enables IP geolocation when non-empty.
	GeoEndpoint string `env:"GEO_ENDPOINT" env-default:"http://ip-api.com/json"`
	GeoDisabled bool   `env:"GEO_DISABLED" env-default:"false"`

	JWTSecret  string `env:"JWT_SECRET" env-default:""`
	AdminEmail string `env:"ADMIN_EMAIL" env-default:""`
	AdminUser  string `env:"ADMIN_USER_ID" env-default:""`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return &cfg, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Backends holds everything assembled from configuration, with a Close
// releasing the underlying connections.
type Backends struct {
	Service fromscratch.Service
	Blobs   fromscratch.BlobStore

	closers []func() error
}

// Close releases all backend connections in reverse assembly order.
func (b *Backends) Close() error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build assembles the service and its backends from configuration.
func Build(ctx context.Context, cfg *Config) (*Backends, error) {
	b := &Backends{}

	repo, err := b.buildRepository(ctx, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}

	opts := []fromscratch.Option{
		fromscratch.WithRepository(repo),
		fromscratch.WithEnvironment(cfg.Environment),
		fromscratch.WithAdminUser(cfg.AdminUser),
		fromscratch.WithBaseURL(cfg.BaseURL),
	}

	if !cfg.GeoDisabled && cfg.GeoEndpoint != "" {
		opts = append(opts, fromscratch.WithGeoClient(geo.NewHTTPClient(cfg.GeoEndpoint)))
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		limiter := ratelimit.NewRedisLimiter(redis.NewClient(redisOpts),
			fromscratch.RateLimitMax, fromscratch.RateLimitWindowDuration)
		b.closers = append(b.closers, limiter.Close)
		opts = append(opts, fromscratch.WithRateLimiter(limiter))
	}

	if cfg.KafkaBrokers != "" {
		eventSink := sink.NewKafkaSink(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		b.closers = append(b.closers, eventSink.Close)
		opts = append(opts, fromscratch.WithSink(eventSink))
	}

	b.Service, err = fromscratch.New(opts...)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.Blobs, err = b.buildBlobStore(ctx, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) buildRepository(ctx context.Context, cfg *Config) (fromscratch.Repository, error) {
	switch {
	case cfg.DatabaseURL == "" || cfg.DatabaseURL == "memory":
		return memoryrepo.New(), nil

	case strings.HasPrefix(cfg.DatabaseURL, "mongodb://"),
		strings.HasPrefix(cfg.DatabaseURL, "mongodb+srv://"):
		client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		b.closers = append(b.closers, func() error {
			return client.Disconnect(context.Background())
		})
		return mongorepo.New(ctx, client.Database(cfg.MongoDBName))

	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"),
		strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, func() error {
			pool.Close()
			return nil
		})
		return postgresrepo.New(pool), nil

	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL %q", cfg.DatabaseURL)
	}
}

func (b *Backends) buildBlobStore(ctx context.Context, cfg *Config) (fromscratch.BlobStore, error) {
	mediaBase := cfg.MediaPublicURL
	if mediaBase == "" {
		mediaBase = cfg.BaseURL + "/media"
	}

	switch {
	case cfg.StorageURL == "" || cfg.StorageURL == "memory":
		return memorystorage.New(mediaBase), nil

	case strings.HasPrefix(cfg.StorageURL, "file://"):
		dir := strings.TrimPrefix(cfg.StorageURL, "file://")
		if dir == "" {
			dir = cfg.MediaDir
		}
		return fsstorage.New(dir, mediaBase)

	case strings.HasPrefix(cfg.StorageURL, "s3://"):
		return s3storage.New(ctx, s3storage.Config{
			Region:          cfg.S3Region,
			Bucket:          strings.TrimPrefix(cfg.StorageURL, "s3://"),
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
			PublicBaseURL:   cfg.MediaPublicURL,
		})

	default:
		return nil, fmt.Errorf("unsupported STORAGE_URL %q", cfg.StorageURL)
	}
}
