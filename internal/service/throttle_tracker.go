package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// Companion timestamp kinds stored next to each resource snapshot.
const (
	StampBackgroundFetch = "lastBgFetchTime"
	StampCloudFetch      = "lastCloudFetchTime"
	StampSync            = "lastSyncTimestamp"
	StampPendingPush     = "pendingPushAt"
)

// StampKey returns the snapshot key holding a timestamp for resource key.
func StampKey(key, kind string) string {
	return key + "." + kind
}

// ThrottleTracker keeps the persisted throttle and sync timestamps. Every
// write replaces a single value.
type ThrottleTracker struct {
	mu     sync.Mutex
	store  SnapshotRepository
	now    func() time.Time
	stamps map[string]time.Time
	loaded map[string]bool
	logger *zap.Logger
}

// NewThrottleTracker constructs a tracker backed by store. store may be nil,
// in which case timestamps live only in memory.
func NewThrottleTracker(store SnapshotRepository, now func() time.Time, logger *zap.Logger) *ThrottleTracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThrottleTracker{
		store:  store,
		now:    now,
		stamps: make(map[string]time.Time),
		loaded: make(map[string]bool),
		logger: logger,
	}
}

// Last returns the stored timestamp, or the zero time.
func (t *ThrottleTracker) Last(ctx context.Context, key, kind string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, StampKey(key, kind))
}

// Allow reports whether window has elapsed since the last stamp and, if so,
// records now as the new stamp. Check and update happen under one lock.
func (t *ThrottleTracker) Allow(ctx context.Context, key, kind string, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	stampKey := StampKey(key, kind)
	now := t.now()
	last := t.load(ctx, stampKey)
	if window > 0 && !last.IsZero() && now.Sub(last) < window {
		return false
	}
	t.write(ctx, stampKey, now)
	return true
}

// Mark records at for the stamp.
func (t *ThrottleTracker) Mark(ctx context.Context, key, kind string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.write(ctx, StampKey(key, kind), at)
}

// ClearIfNotAfter removes the stamp when it is not later than at. It returns
// true when the stamp is gone afterwards.
func (t *ThrottleTracker) ClearIfNotAfter(ctx context.Context, key, kind string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	stampKey := StampKey(key, kind)
	last := t.load(ctx, stampKey)
	if last.IsZero() {
		return true
	}
	if last.After(at) {
		return false
	}
	t.stamps[stampKey] = time.Time{}
	if t.store != nil {
		if err := t.store.Delete(ctx, stampKey); err != nil {
			t.logger.Warn("clear throttle stamp failed", zap.String("key", stampKey), zap.Error(err))
		}
	}
	return true
}

func (t *ThrottleTracker) load(ctx context.Context, stampKey string) time.Time {
	if t.loaded[stampKey] || t.store == nil {
		return t.stamps[stampKey]
	}
	t.loaded[stampKey] = true
	raw, err := t.store.Get(ctx, stampKey)
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			t.logger.Warn("read throttle stamp failed", zap.String("key", stampKey), zap.Error(err))
		}
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		t.logger.Warn("corrupt throttle stamp ignored", zap.String("key", stampKey), zap.Error(err))
		return time.Time{}
	}
	t.stamps[stampKey] = at
	return at
}

func (t *ThrottleTracker) write(ctx context.Context, stampKey string, at time.Time) {
	t.stamps[stampKey] = at
	t.loaded[stampKey] = true
	if t.store == nil {
		return
	}
	if err := t.store.Set(ctx, stampKey, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
		t.logger.Warn("persist throttle stamp failed", zap.String("key", stampKey), zap.Error(err))
	}
}
