package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/internal/models"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// FetchFunc loads the remote representation of a resource scope.
type FetchFunc[T any] func(ctx context.Context, scope string) (T, error)

// PushFunc writes the local representation of a resource scope remotely.
type PushFunc[T any] func(ctx context.Context, scope string, value T) error

// FallbackFunc supplies a value when nothing fetched or persisted is available.
type FallbackFunc[T any] func(err error) T

// ResourceOptions configures a Resource.
type ResourceOptions[T any] struct {
	Fetch    FetchFunc[T]
	Push     PushFunc[T]
	Fallback FallbackFunc[T]
}

// GetOptions tunes a single Get.
type GetOptions struct {
	ForceRefresh bool
}

// Resource is one logical cached value (optionally scoped, e.g. per user)
// served through the shared reconciler.
type Resource[T any] struct {
	resource string
	rec      *SyncReconciler
	fetch    FetchFunc[T]
	push     PushFunc[T]
	fallback FallbackFunc[T]
}

// NewResource registers a resource named name with rec.
func NewResource[T any](rec *SyncReconciler, name string, opts ResourceOptions[T]) *Resource[T] {
	r := &Resource[T]{
		resource: name,
		rec:      rec,
		fetch:    opts.Fetch,
		push:     opts.Push,
		fallback: opts.Fallback,
	}
	rec.register(r)
	return r
}

func (r *Resource[T]) name() string {
	return r.resource
}

// Key returns the cache key for scope.
func (r *Resource[T]) Key(scope string) string {
	return resourceKey(r.resource, scope)
}

// Topic returns the update notification topic.
func (r *Resource[T]) Topic() string {
	return UpdateTopic(r.resource)
}

// Get returns usable data for scope and never fails. Memory wins while
// fresh; otherwise the persisted snapshot is served at once and a throttled
// refresh runs behind it; with nothing cached the caller waits for one
// shared fetch, falling back to sample data when that fails.
func (r *Resource[T]) Get(ctx context.Context, scope string, opts GetOptions) models.CacheEntry[T] {
	key := r.Key(scope)

	if opts.ForceRefresh {
		if r.rec.throttle.Allow(ctx, key, StampCloudFetch, r.rec.cfg.ForegroundWindow) {
			r.Invalidate(scope)
			return r.fetchAndWait(ctx, scope, key, true)
		}
		r.rec.metrics.RecordFetch(r.resource, "throttled")
		r.rec.logger.Debug("forced refresh throttled", zap.String("key", key))
	}

	if entry, ok := r.fromMemory(key); ok {
		return entry
	}

	if entry, ok := r.readSnapshot(ctx, key); ok {
		r.rec.memory.Set(key, entry)
		if !opts.ForceRefresh && r.rec.throttle.Allow(ctx, key, StampBackgroundFetch, r.rec.cfg.BackgroundWindow) {
			r.refreshAsync(scope, key)
			entry.Refreshing = true
		}
		return entry
	}

	return r.fetchAndWait(ctx, scope, key, false)
}

// Put stores a local mutation. The snapshot and memory cache are written
// before Put returns; the remote push, when enabled, runs in the background
// and its failure never reaches the caller.
func (r *Resource[T]) Put(ctx context.Context, scope string, value T) models.CacheEntry[T] {
	key := r.Key(scope)
	now := r.rec.cfg.Now()
	entry := models.CacheEntry[T]{Key: key, Payload: value, FetchedAt: now, Source: models.CacheSourceLocal}

	pushing := r.rec.cfg.RemoteSync && r.push != nil
	if pushing {
		r.rec.throttle.Mark(ctx, key, StampPendingPush, now)
	}
	r.rec.memory.Set(key, entry)
	r.writeSnapshot(ctx, entry)
	r.rec.publish(r.resource, key, models.CacheSourceLocal)

	if pushing {
		r.rec.schedulePush(r.resource, scope)
	}
	return entry
}

// Invalidate drops the memory entry for scope.
func (r *Resource[T]) Invalidate(scope string) {
	r.rec.memory.Delete(r.Key(scope))
}

// PendingPush reports whether a local write for scope awaits its push.
func (r *Resource[T]) PendingPush(ctx context.Context, scope string) bool {
	return !r.rec.throttle.Last(ctx, r.Key(scope), StampPendingPush).IsZero()
}

// LastSync returns when scope last matched the remote store.
func (r *Resource[T]) LastSync(ctx context.Context, scope string) time.Time {
	return r.rec.throttle.Last(ctx, r.Key(scope), StampSync)
}

func (r *Resource[T]) fromMemory(key string) (models.CacheEntry[T], bool) {
	cached, ok := r.rec.memory.Get(key)
	if !ok {
		return models.CacheEntry[T]{}, false
	}
	entry, ok := cached.(models.CacheEntry[T])
	if !ok {
		r.rec.memory.Delete(key)
		return models.CacheEntry[T]{}, false
	}
	if !entry.IsFallback {
		entry.Source = models.CacheSourceMemory
	}
	entry.Refreshing = false
	return entry, true
}

// fetchAndWait joins or starts the single in-flight fetch for key.
func (r *Resource[T]) fetchAndWait(ctx context.Context, scope, key string, forced bool) models.CacheEntry[T] {
	ch := r.rec.flights.DoChan(key, func() (interface{}, error) {
		if !forced {
			if entry, ok := r.fromMemory(key); ok {
				return entry, nil
			}
		}
		return r.runFetch(scope, key), nil
	})
	select {
	case res := <-ch:
		return res.Val.(models.CacheEntry[T])
	case <-ctx.Done():
		// The flight keeps running for everyone else; only this caller degrades.
		return r.degraded(context.Background(), key, ctx.Err())
	}
}

func (r *Resource[T]) refreshAsync(scope, key string) {
	r.rec.flights.DoChan(key, func() (interface{}, error) {
		return r.runFetch(scope, key), nil
	})
}

type fetchResult[T any] struct {
	value T
	err   error
}

// runFetch performs one bounded remote fetch and folds the result into the
// caches. It always returns a usable entry.
func (r *Resource[T]) runFetch(scope, key string) models.CacheEntry[T] {
	ctx := r.rec.lifetime
	r.rec.throttle.Mark(ctx, key, StampBackgroundFetch, r.rec.cfg.Now())
	if r.fetch == nil {
		return r.degrade(ctx, key, errors.New("resource has no remote source"))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.rec.cfg.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fetchResult[T]{err: fmt.Errorf("fetch panicked: %v", p)}
			}
		}()
		value, err := r.fetch(fetchCtx, scope)
		done <- fetchResult[T]{value: value, err: err}
	}()

	var res fetchResult[T]
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		res.err = appErrors.Wrap(fetchCtx.Err(), appErrors.ErrFetchTimeout.Code, appErrors.ErrFetchTimeout.Status, appErrors.ErrFetchTimeout.Message)
	}

	if res.err != nil {
		r.rec.metrics.RecordFetch(r.resource, "failure")
		r.rec.logger.Warn("remote fetch failed", zap.String("key", key), zap.String("reason", string(ClassifyFailure(res.err))), zap.Error(res.err))
		return r.degrade(ctx, key, res.err)
	}

	if entry, ok := r.unconfirmedLocal(ctx, scope, key); ok {
		r.rec.metrics.RecordFetch(r.resource, "skipped")
		r.rec.logger.Info("remote result ignored while local changes are unconfirmed", zap.String("key", key))
		entry.Source = models.CacheSourceLocal
		entry.Stale = false
		r.rec.memory.Set(key, entry)
		return entry
	}

	now := r.rec.cfg.Now()
	entry := models.CacheEntry[T]{Key: key, Payload: res.value, FetchedAt: now, Source: models.CacheSourceRemote}
	r.rec.memory.Set(key, entry)
	r.writeSnapshot(ctx, entry)
	r.rec.throttle.Mark(ctx, key, StampSync, now)
	r.rec.metrics.RecordFetch(r.resource, "success")
	r.rec.publish(r.resource, key, models.CacheSourceRemote)
	return entry
}

// unconfirmedLocal returns the persisted local write for key when the remote
// store has not seen it yet: its push is pending, or it was written after the
// last successful sync. Local writes win until a push confirms them.
func (r *Resource[T]) unconfirmedLocal(ctx context.Context, scope, key string) (models.CacheEntry[T], bool) {
	entry, origin, ok := r.readSnapshotRecord(ctx, key)
	if !ok {
		return models.CacheEntry[T]{}, false
	}
	if r.PendingPush(ctx, scope) {
		return entry, true
	}
	if origin == models.CacheSourceLocal && entry.FetchedAt.After(r.LastSync(ctx, scope)) {
		return entry, true
	}
	return models.CacheEntry[T]{}, false
}

// degrade serves the last snapshot marked stale or, without one, fallback
// data, and caches the result in memory. Fallback data is never persisted.
func (r *Resource[T]) degrade(ctx context.Context, key string, cause error) models.CacheEntry[T] {
	entry := r.degraded(ctx, key, cause)
	r.rec.memory.Set(key, entry)
	return entry
}

// degraded builds the entry degrade serves without touching the caches.
func (r *Resource[T]) degraded(ctx context.Context, key string, cause error) models.CacheEntry[T] {
	reason := ClassifyFailure(cause)
	if entry, ok := r.readSnapshot(ctx, key); ok {
		entry.Stale = true
		entry.Reason = reason
		return entry
	}

	entry := models.CacheEntry[T]{
		Key:        key,
		FetchedAt:  r.rec.cfg.Now(),
		Source:     models.CacheSourceFallback,
		IsFallback: true,
		Reason:     reason,
	}
	if r.fallback != nil {
		entry.Payload = r.fallback(cause)
	}
	r.rec.metrics.RecordFallback(r.resource, string(reason))
	return entry
}

func (r *Resource[T]) readSnapshot(ctx context.Context, key string) (models.CacheEntry[T], bool) {
	entry, _, ok := r.readSnapshotRecord(ctx, key)
	return entry, ok
}

// readSnapshotRecord also reports where the persisted value originally came from.
func (r *Resource[T]) readSnapshotRecord(ctx context.Context, key string) (models.CacheEntry[T], models.CacheSource, bool) {
	if r.rec.snapshots == nil {
		return models.CacheEntry[T]{}, "", false
	}
	start := time.Now()
	raw, err := r.rec.snapshots.Get(ctx, key)
	r.rec.metrics.ObserveSnapshotRead(time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			r.rec.logger.Warn("snapshot read failed", zap.String("key", key), zap.Error(err))
		}
		return models.CacheEntry[T]{}, "", false
	}

	entry, origin, err := decodeSnapshot[T](key, raw)
	if err != nil {
		r.rec.logger.Warn("corrupt snapshot treated as empty", zap.String("key", key),
			zap.Error(appErrors.Wrap(err, appErrors.ErrSnapshotRead.Code, appErrors.ErrSnapshotRead.Status, appErrors.ErrSnapshotRead.Message)))
		return models.CacheEntry[T]{}, "", false
	}
	return entry, origin, true
}

func decodeSnapshot[T any](key string, raw []byte) (models.CacheEntry[T], models.CacheSource, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.CacheEntry[T]{}, "", err
	}
	var payload T
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return models.CacheEntry[T]{}, "", err
	}
	return models.CacheEntry[T]{
		Key:       key,
		Payload:   payload,
		FetchedAt: snap.FetchedAt,
		Source:    models.CacheSourceSnapshot,
		Stale:     true,
	}, snap.Source, nil
}

func (r *Resource[T]) writeSnapshot(ctx context.Context, entry models.CacheEntry[T]) {
	if r.rec.snapshots == nil {
		return
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		r.rec.logger.Warn("snapshot encode failed", zap.String("key", entry.Key), zap.Error(err))
		return
	}
	raw, err := json.Marshal(models.Snapshot{Key: entry.Key, Payload: payload, FetchedAt: entry.FetchedAt, Source: entry.Source})
	if err != nil {
		r.rec.logger.Warn("snapshot encode failed", zap.String("key", entry.Key), zap.Error(err))
		return
	}
	start := time.Now()
	if err := r.rec.snapshots.Set(ctx, entry.Key, raw); err != nil {
		r.rec.logger.Warn("snapshot write failed", zap.String("key", entry.Key), zap.Error(err))
	}
	r.rec.metrics.ObserveSnapshotWrite(time.Since(start))
}

// pushScope sends the current local value of scope to the remote store and
// clears the pending mark unless a newer write arrived meanwhile.
func (r *Resource[T]) pushScope(ctx context.Context, scope string) error {
	if r.push == nil {
		return nil
	}
	key := r.Key(scope)
	entry, ok := r.fromMemory(key)
	if !ok || entry.IsFallback {
		entry, ok = r.readSnapshot(ctx, key)
	}
	if !ok {
		r.rec.throttle.ClearIfNotAfter(ctx, key, StampPendingPush, r.rec.cfg.Now())
		return nil
	}
	if err := r.push(ctx, scope, entry.Payload); err != nil {
		r.rec.metrics.RecordPush(r.resource, "failure")
		return appErrors.Wrap(err, appErrors.ErrRemoteWrite.Code, appErrors.ErrRemoteWrite.Status, appErrors.ErrRemoteWrite.Message)
	}
	r.rec.metrics.RecordPush(r.resource, "success")
	if r.rec.throttle.ClearIfNotAfter(ctx, key, StampPendingPush, entry.FetchedAt) {
		r.rec.throttle.Mark(ctx, key, StampSync, r.rec.cfg.Now())
	}
	return nil
}
