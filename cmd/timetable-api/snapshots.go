package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/internal/repository"
	"github.com/noah-isme/timetable-sync/internal/service"
	"github.com/noah-isme/timetable-sync/pkg/cache"
	"github.com/noah-isme/timetable-sync/pkg/config"
	"github.com/noah-isme/timetable-sync/pkg/storage"
)

// snapshotBackend is the configured snapshot repository with its lifecycle.
type snapshotBackend struct {
	Repository service.SnapshotRepository
	Ping       func(ctx context.Context) error
	close      func() error
}

func (b *snapshotBackend) Close() {
	if b.close != nil {
		_ = b.close()
	}
}

func openSnapshots(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*snapshotBackend, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendRedis, "":
		client := cache.NewRedisClient(cfg.Redis)
		if err := cache.Ping(ctx, client); err != nil {
			// Snapshot reads miss until Redis answers.
			logr.Warn("redis unreachable, snapshots unavailable until it recovers", zap.Error(err))
		}
		repo := repository.NewRedisSnapshotRepository(client, cfg.Snapshot.Prefix, logr)
		return &snapshotBackend{
			Repository: repo,
			Ping:       func(ctx context.Context) error { return cache.Ping(ctx, client) },
			close:      repo.Close,
		}, nil

	case config.SnapshotBackendSQLite:
		db, err := storage.NewSQLite(cfg.Snapshot.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &snapshotBackend{
			Repository: repository.NewSQLiteSnapshotRepository(db),
			Ping:       db.PingContext,
			close:      db.Close,
		}, nil

	case config.SnapshotBackendFile:
		local, err := storage.NewLocalStorage(cfg.Snapshot.Dir)
		if err != nil {
			return nil, err
		}
		repo := repository.NewFileSnapshotRepository(local)
		return &snapshotBackend{
			Repository: repo,
			Ping: func(ctx context.Context) error {
				_, err := repo.List(ctx, "")
				return err
			},
		}, nil

	case config.SnapshotBackendObject:
		client, err := storage.NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return &snapshotBackend{
			Repository: repository.NewObjectSnapshotRepository(client, cfg.MinIO.Bucket, cfg.Snapshot.Prefix),
			Ping: func(ctx context.Context) error {
				_, err := client.BucketExists(ctx, cfg.MinIO.Bucket)
				return err
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
}
