package repository

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
	"github.com/noah-isme/timetable-sync/pkg/storage"
)

const snapshotFileExt = ".json"

// FileSnapshotRepository keeps one file per snapshot key on local disk.
type FileSnapshotRepository struct {
	store *storage.LocalStorage
	mu    sync.RWMutex
}

// NewFileSnapshotRepository constructs the repository over store.
func NewFileSnapshotRepository(store *storage.LocalStorage) *FileSnapshotRepository {
	return &FileSnapshotRepository{store: store}
}

// Get returns the raw snapshot stored for key.
func (r *FileSnapshotRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, err := r.store.Read(snapshotFileName(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

// Set replaces the snapshot stored for key.
func (r *FileSnapshotRepository) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Save(snapshotFileName(key), value)
}

// Delete removes key.
func (r *FileSnapshotRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Delete(snapshotFileName(key))
}

// List returns the keys starting with prefix, sorted.
func (r *FileSnapshotRepository) List(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	names, err := r.store.List(url.PathEscape(prefix))
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		escaped, ok := strings.CutSuffix(name, snapshotFileExt)
		if !ok {
			continue
		}
		key, err := url.PathUnescape(escaped)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// snapshotFileName escapes key so every key maps to a single flat file.
func snapshotFileName(key string) string {
	return url.PathEscape(key) + snapshotFileExt
}
