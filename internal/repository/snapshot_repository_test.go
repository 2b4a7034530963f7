package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
	"github.com/noah-isme/timetable-sync/pkg/storage"
)

type snapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

func exerciseSnapshotStore(t *testing.T, store snapshotStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "timetableEntries")
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "timetableEntries", []byte(`{"v":1}`)))
	require.NoError(t, store.Set(ctx, "timetableEntries", []byte(`{"v":2}`)))
	require.NoError(t, store.Set(ctx, "timetableEntries.lastSyncTimestamp", []byte(`"2024-09-02T08:00:00Z"`)))
	require.NoError(t, store.Set(ctx, "gradeCalculator:user/1", []byte(`[]`)))
	require.NoError(t, store.Set(ctx, "gradeCalculator:user/1.pendingPushAt", []byte(`"x"`)))

	value, err := store.Get(ctx, "timetableEntries")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(value))

	keys, err := store.List(ctx, "gradeCalculator")
	require.NoError(t, err)
	assert.Equal(t, []string{"gradeCalculator:user/1", "gradeCalculator:user/1.pendingPushAt"}, keys)

	keys, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	require.NoError(t, store.Delete(ctx, "gradeCalculator:user/1.pendingPushAt"))
	require.NoError(t, store.Delete(ctx, "missing"))
	_, err = store.Get(ctx, "gradeCalculator:user/1.pendingPushAt")
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
}

func TestSQLiteSnapshotRepository(t *testing.T) {
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	exerciseSnapshotStore(t, NewSQLiteSnapshotRepository(db))
}

func TestFileSnapshotRepository(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	exerciseSnapshotStore(t, NewFileSnapshotRepository(local))
}

func TestRedisSnapshotRepositoryWithoutClient(t *testing.T) {
	repo := NewRedisSnapshotRepository(nil, "timetable:", nil)
	ctx := context.Background()

	_, err := repo.Get(ctx, "timetableEntries")
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "timetableEntries", []byte("{}")))
	assert.NoError(t, repo.Delete(ctx, "timetableEntries"))
	keys, err := repo.List(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, repo.Close())
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `user\*1\?\[a\]`, escapeGlob("user*1?[a]"))
	assert.Equal(t, `a\\b`, escapeGlob(`a\b`))
}

func TestIsMissingObject(t *testing.T) {
	assert.True(t, isMissingObject(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isMissingObject(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isMissingObject(errors.New("boom")))
}

func TestObjectSnapshotRepositoryNames(t *testing.T) {
	repo := NewObjectSnapshotRepository(nil, "snapshots", "timetable/")
	assert.Equal(t, "timetable/gradeCalculator:u1", repo.objectName("gradeCalculator:u1"))
	assert.ErrorIs(t, repo.mapError("k", "get", minio.ErrorResponse{Code: "NoSuchKey"}), appErrors.ErrCacheMiss)
}
