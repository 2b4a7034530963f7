package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/timetable-sync/internal/models"
	"github.com/noah-isme/timetable-sync/pkg/jobs"
)

// SnapshotRepository persists one opaque value per key. Get returns
// errors.ErrCacheMiss when the key is absent; Set replaces the value whole.
type SnapshotRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ReconcilerConfig tunes caching, throttling and remote pushes.
type ReconcilerConfig struct {
	MemoryTTL         time.Duration
	BackgroundWindow  time.Duration
	ForegroundWindow  time.Duration
	FetchTimeout      time.Duration
	ReconcileInterval time.Duration
	RemoteSync        bool
	PushWorkers       int
	PushRetries       int
	PushRetryDelay    time.Duration
	// Now is the clock used for throttling and entry timestamps.
	Now func() time.Time
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.MemoryTTL <= 0 {
		c.MemoryTTL = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// pushTarget is the type-erased push side of a Resource.
type pushTarget interface {
	name() string
	pushScope(ctx context.Context, scope string) error
}

type pushJob struct {
	Resource string
	Scope    string
}

// SyncReconciler owns the shared cache state: memory cache, persistent
// snapshots, throttle stamps, the update bus and the in-flight fetch table.
// Create one per process and share it between resources.
type SyncReconciler struct {
	cfg       ReconcilerConfig
	memory    *CacheService
	snapshots SnapshotRepository
	throttle  *ThrottleTracker
	bus       *EventBus
	flights   singleflight.Group
	pushes    *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.RWMutex
	targets map[string]pushTarget
	running bool
}

// NewSyncReconciler wires the shared state. bus may be nil.
func NewSyncReconciler(cfg ReconcilerConfig, snapshots SnapshotRepository, bus *EventBus, metrics *MetricsService, logger *zap.Logger) *SyncReconciler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewEventBus()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	r := &SyncReconciler{
		cfg:       cfg,
		memory:    NewCacheService(cfg.MemoryTTL, metrics),
		snapshots: snapshots,
		throttle:  NewThrottleTracker(snapshots, cfg.Now, logger),
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		lifetime:  lifetime,
		cancel:    cancel,
		targets:   make(map[string]pushTarget),
	}
	r.pushes = jobs.NewQueue("remote-push", r.handlePush, jobs.QueueConfig{
		Workers:    cfg.PushWorkers,
		MaxRetries: cfg.PushRetries,
		RetryDelay: cfg.PushRetryDelay,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job, err error) {
			logger.Warn("remote push left for next reconciliation", zap.String("job_id", job.ID), zap.Error(err))
		},
	})
	return r
}

// Bus returns the update bus.
func (r *SyncReconciler) Bus() *EventBus {
	return r.bus
}

// Start launches the push workers and the periodic reconciliation pass.
func (r *SyncReconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.pushes.Start(r.lifetime)
	if !r.cfg.RemoteSync || r.cfg.ReconcileInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.ReconcileInterval)
		defer ticker.Stop()
		r.ReconcilePending(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.lifetime.Done():
				return
			case <-ticker.C:
				r.ReconcilePending(ctx)
			}
		}
	}()
}

// Stop ends background work. In-flight fetches are cancelled.
func (r *SyncReconciler) Stop() {
	r.cancel()
	r.wg.Wait()
	r.pushes.Stop()
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// ReconcilePending schedules a push for every key still marked as pending.
// It returns the number of pushes scheduled.
func (r *SyncReconciler) ReconcilePending(ctx context.Context) int {
	if !r.cfg.RemoteSync || r.snapshots == nil {
		return 0
	}
	r.mu.RLock()
	targets := make([]pushTarget, 0, len(r.targets))
	for _, t := range r.targets {
		targets = append(targets, t)
	}
	r.mu.RUnlock()

	scheduled := 0
	suffix := "." + StampPendingPush
	for _, target := range targets {
		keys, err := r.snapshots.List(ctx, target.name())
		if err != nil {
			r.logger.Warn("list pending pushes failed", zap.String("resource", target.name()), zap.Error(err))
			continue
		}
		for _, k := range keys {
			if !strings.HasSuffix(k, suffix) {
				continue
			}
			scope, ok := scopeOf(target.name(), strings.TrimSuffix(k, suffix))
			if !ok {
				continue
			}
			if r.schedulePush(target.name(), scope) {
				scheduled++
			}
		}
	}
	if scheduled > 0 {
		r.logger.Info("reconciliation scheduled pending pushes", zap.Int("count", scheduled))
	}
	return scheduled
}

func (r *SyncReconciler) register(t pushTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[t.name()]; exists {
		panic(fmt.Sprintf("resource %q registered twice", t.name()))
	}
	r.targets[t.name()] = t
}

func (r *SyncReconciler) schedulePush(resource, scope string) bool {
	err := r.pushes.TryEnqueue(jobs.Job{
		Key:     resourceKey(resource, scope),
		Type:    resource,
		Payload: pushJob{Resource: resource, Scope: scope},
	})
	if err != nil {
		r.logger.Warn("remote push not scheduled", zap.String("resource", resource), zap.String("scope", scope), zap.Error(err))
		return false
	}
	return true
}

func (r *SyncReconciler) handlePush(ctx context.Context, job jobs.Job) error {
	p, ok := job.Payload.(pushJob)
	if !ok {
		return nil
	}
	r.mu.RLock()
	target := r.targets[p.Resource]
	r.mu.RUnlock()
	if target == nil {
		r.logger.Warn("push for unknown resource dropped", zap.String("resource", p.Resource))
		return nil
	}
	return target.pushScope(ctx, p.Scope)
}

func (r *SyncReconciler) publish(resource, key string, source models.CacheSource) {
	topic := UpdateTopic(resource)
	r.bus.Publish(UpdateEvent{Topic: topic, Key: key, Source: source, At: r.cfg.Now()})
	r.metrics.RecordUpdate(topic)
}

func resourceKey(resource, scope string) string {
	if scope == "" {
		return resource
	}
	return resource + ":" + scope
}

func scopeOf(resource, key string) (string, bool) {
	if key == resource {
		return "", true
	}
	scope, ok := strings.CutPrefix(key, resource+":")
	return scope, ok && scope != ""
}
