package main

import (
	"context"
	"database/sql"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/vango-dev/localstore/internal/config"
	"github.com/vango-dev/localstore/internal/errors"
	"github.com/vango-dev/localstore/pkg/broadcast"
	"github.com/vango-dev/localstore/pkg/localstore"
	"github.com/vango-dev/localstore/pkg/relay"
	"github.com/vango-dev/localstore/pkg/storage"
)

// backend is an opened storage backend and everything that must be closed
// with it.
type backend struct {
	host    *localstore.Host
	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects to the configured backend and builds a host for it.
// Backends without a change feed are paired with the relay when one is
// configured.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	b := &backend{}
	fail := func(err error) (*backend, error) {
		b.Close()
		return nil, errors.New("E080").
			WithDetail("Could not open the " + cfg.Backend + " backend").
			Wrap(err)
	}

	var store storage.Storage
	switch cfg.Backend {
	case config.BackendMemory:
		origin := storage.NewMemory()
		b.closers = append(b.closers, origin.Close)
		store = origin.Context()

	case config.BackendSQL:
		dialect, err := storage.ParseDialect(cfg.SQL.Driver)
		if err != nil {
			return fail(err)
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, db.Close)
		if dialect == storage.DialectSQLite {
			// SQLite allows a single writer
			db.SetMaxOpenConns(1)
		}
		s := storage.NewSQL(db, storage.WithSQLDialect(dialect), storage.WithSQLTableName(cfg.SQL.Table))
		if err := s.CreateTable(ctx); err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, s.Close)
		store = s

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(err)
		}
		s := storage.NewRedis(client,
			storage.WithRedisPrefix(cfg.Redis.Prefix),
			storage.WithRedisChannel(cfg.Redis.Channel),
			storage.WithRedisLogger(logger),
		)
		b.closers = append(b.closers, s.Close)
		store = s

	case config.BackendNATS:
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("localstore"))
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, func() error { nc.Close(); return nil })
		js, err := jetstream.New(nc)
		if err != nil {
			return fail(err)
		}
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.NATS.Bucket,
			Description: "localstore entries",
		})
		if err != nil {
			return fail(err)
		}
		s := storage.NewNATS(kv, storage.WithNATSLogger(logger))
		b.closers = append(b.closers, s.Close)
		store = s

	case config.BackendS3:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fail(err)
		}
		store = storage.NewS3(s3.NewFromConfig(awsCfg), cfg.S3.Bucket, cfg.S3.Prefix)

	default:
		return nil, errors.New("E121").WithDetail("Unknown backend " + cfg.Backend)
	}

	changes := storage.ChangeSourceOf(store)
	if changes == nil && cfg.Relay.URL != "" {
		client, err := relay.Dial(ctx, cfg.Relay.URL, relay.WithClientLogger(logger))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		store = storage.Notifying(store, client, logger)
		changes = client
	}

	if cfg.Tracing {
		store = storage.Traced(store, storage.WithBackendName(cfg.Backend))
	}

	b.host = &localstore.Host{Storage: store, Changes: changes, Bus: broadcast.New()}
	return b, nil
}
