// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cicada

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/transducer"
	"github.com/jellydator/ttlcache/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrModelNotFound is returned for names that were not discovered.
	ErrModelNotFound = errors.New("model not found")

	// ErrRegistryClosed is returned by a registry after Close.
	ErrRegistryClosed = errors.New("model registry is closed")
)

// NewInstrumentedLoader returns a transducer.Loader that records
// architecture resolutions in the cicada metrics.
func NewInstrumentedLoader(sessions backends.SessionFactory, logger *zap.Logger, opts ...transducer.Option) *transducer.Loader {
	opts = append([]transducer.Option{
		transducer.WithObserver(transducer.ObserverFunc(RecordArchitectureResolution)),
	}, opts...)
	return transducer.NewLoader(sessions, logger, opts...)
}

// ModelRegistry manages transducer models with lazy loading and TTL-based unloading
type ModelRegistry struct {
	fsys      afero.Fs
	modelsDir string
	loader    *transducer.Loader
	logger    *zap.Logger

	// Model discovery (paths only, not loaded)
	discovered map[string]*ModelInfo
	mu         sync.RWMutex

	// Loaded models with TTL cache
	cache *ttlcache.Cache[string, transducer.Model]
	loads singleflight.Group

	// Reference counting to prevent eviction during active use. A referenced
	// model evicted from the cache moves to pinned until its last Release.
	refCounts   map[string]int
	pinned      map[string]transducer.Model
	refCountsMu sync.Mutex

	keepAlive time.Duration

	// lifecycleMu orders cache inserts against Close.
	lifecycleMu sync.RWMutex
	closed      atomic.Bool
}

// NewModelRegistry discovers the models under cfg.ModelsDir in fsys without
// loading them. A nil fsys means the local filesystem.
func NewModelRegistry(cfg Config, fsys afero.Fs, loader *transducer.Loader, logger *zap.Logger) (*ModelRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if loader == nil {
		return nil, errors.New("model registry requires a loader")
	}

	keepAlive, err := cfg.keepAlive()
	if err != nil {
		return nil, err
	}
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL // Never expire
	}

	registry := &ModelRegistry{
		fsys:       fsys,
		modelsDir:  cfg.ModelsDir,
		loader:     loader,
		logger:     logger,
		discovered: make(map[string]*ModelInfo),
		refCounts:  make(map[string]int),
		pinned:     make(map[string]transducer.Model),
		keepAlive:  keepAlive,
	}

	// Configure TTL cache with LRU eviction
	cacheOpts := []ttlcache.Option[string, transducer.Model]{
		ttlcache.WithTTL[string, transducer.Model](keepAlive),
	}
	if cfg.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, transducer.Model](uint64(cfg.MaxLoadedModels)))
	}
	registry.cache = ttlcache.New(cacheOpts...)
	registry.cache.OnEviction(registry.onEviction)

	go registry.cache.Start()

	defaults := transducer.ModelConfig{
		NumThreads: cfg.NumThreads,
		Provider:   cfg.Provider,
		Debug:      cfg.Debug,
	}
	if err := registry.discover(defaults, cfg.PreferInt8); err != nil {
		registry.cache.Stop()
		return nil, err
	}

	logger.Info("Lazy model registry initialized",
		zap.Int("models_discovered", len(registry.discovered)),
		zap.Duration("keep_alive", keepAlive),
		zap.Int("max_loaded_models", cfg.MaxLoadedModels))

	return registry, nil
}

func (r *ModelRegistry) discover(defaults transducer.ModelConfig, preferInt8 bool) error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured")
		return nil
	}
	if exists, _ := afero.DirExists(r.fsys, r.modelsDir); !exists {
		r.logger.Warn("Models directory does not exist", zap.String("dir", r.modelsDir))
		return nil
	}

	discovered, err := discoverModels(r.fsys, r.modelsDir, defaults, preferInt8, r.logger)
	if err != nil {
		return fmt.Errorf("discovering models: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, info := range discovered {
		r.logger.Info("Discovered model (not loaded)",
			zap.String("name", name),
			zap.String("path", info.Path),
			zap.String("model_type", info.Config.ModelType),
			zap.String("variant", info.Variant))
		r.discovered[name] = info
	}
	return nil
}

func (r *ModelRegistry) onEviction(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, transducer.Model]) {
	// Close() handles cleanup of manually deleted items synchronously
	if reason == ttlcache.EvictionReasonDeleted {
		return
	}

	reasonStr := "unknown"
	switch reason {
	case ttlcache.EvictionReasonExpired:
		reasonStr = "expired (keep-alive timeout)"
	case ttlcache.EvictionReasonCapacityReached:
		reasonStr = "capacity reached (LRU eviction)"
	}

	// Hold lock through check-and-action to prevent race with Release()
	r.refCountsMu.Lock()
	refCount := r.refCounts[item.Key()]
	if refCount > 0 && !r.closed.Load() {
		r.pinned[item.Key()] = item.Value()
		r.refCountsMu.Unlock()
		r.logger.Info("Keeping evicted model open until released",
			zap.String("model", item.Key()),
			zap.Int("refCount", refCount),
			zap.String("reason", reasonStr))
		return
	}
	r.refCountsMu.Unlock()

	r.logger.Info("Evicting model from cache",
		zap.String("model", item.Key()),
		zap.String("reason", reasonStr))
	r.closeModel(item.Key(), item.Value())
}

func (r *ModelRegistry) closeModel(name string, m transducer.Model) {
	if err := m.Close(); err != nil {
		r.logger.Warn("Error closing model", zap.String("model", name), zap.Error(err))
	}
	loadedModels.Dec()
}

// Get returns a model by name, loading it if necessary. The model may be
// closed by eviction at any time; use Acquire for long-running work.
func (r *ModelRegistry) Get(ctx context.Context, name string) (transducer.Model, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if m, ok := r.lookup(name); ok {
		r.logger.Debug("Model cache hit", zap.String("model", name))
		return m, nil
	}

	info, ok := r.Info(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}

	// Concurrent first requests share one load.
	v, err, _ := r.loads.Do(name, func() (any, error) {
		if m, ok := r.lookup(name); ok {
			return m, nil
		}
		return r.loadModel(ctx, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(transducer.Model), nil
}

// lookup returns a loaded model from the cache, or one that was evicted
// while still referenced.
func (r *ModelRegistry) lookup(name string) (transducer.Model, bool) {
	if item := r.cache.Get(name); item != nil {
		return item.Value(), true
	}
	r.refCountsMu.Lock()
	defer r.refCountsMu.Unlock()
	m, ok := r.pinned[name]
	return m, ok
}

// Acquire returns a model by name and increments its reference count.
// The caller MUST call Release() when done to allow the model to be evicted.
// An acquired model stays open even if the cache evicts it.
func (r *ModelRegistry) Acquire(ctx context.Context, name string) (transducer.Model, error) {
	// Count the reference before loading so an eviction racing with the
	// load pins the model instead of closing it.
	r.refCountsMu.Lock()
	r.refCounts[name]++
	r.refCountsMu.Unlock()

	m, err := r.Get(ctx, name)
	if err != nil {
		r.Release(name)
		return nil, err
	}

	r.logger.Debug("Acquired model", zap.String("model", name), zap.Int("refCount", r.RefCount(name)))
	return m, nil
}

// Release decrements the reference count taken by Acquire. Releasing the
// last reference of a model that was evicted meanwhile closes it.
func (r *ModelRegistry) Release(name string) {
	r.refCountsMu.Lock()
	if r.refCounts[name] > 0 {
		r.refCounts[name]--
	}
	count := r.refCounts[name]
	if count == 0 {
		delete(r.refCounts, name)
	}
	m, evicted := r.pinned[name]
	if count == 0 && evicted {
		delete(r.pinned, name)
	}
	r.refCountsMu.Unlock()

	r.logger.Debug("Released model", zap.String("model", name), zap.Int("refCount", count))
	if count == 0 && evicted {
		r.logger.Info("Closing evicted model after last release", zap.String("model", name))
		r.closeModel(name, m)
	}
}

// RefCount returns the number of outstanding Acquire calls for name.
func (r *ModelRegistry) RefCount(name string) int {
	r.refCountsMu.Lock()
	defer r.refCountsMu.Unlock()
	return r.refCounts[name]
}

func (r *ModelRegistry) loadModel(ctx context.Context, info *ModelInfo) (transducer.Model, error) {
	r.logger.Info("Loading model on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path))

	start := time.Now()
	cfg := info.Config
	m, err := r.loader.CreateModelFromManager(ctx, r.fsys, &cfg)
	if err != nil {
		RecordModelLoadFailure(info.Name, err)
		return nil, fmt.Errorf("loading model %s: %w", info.Name, err)
	}
	elapsed := time.Since(start)
	RecordModelLoadDuration(info.Name, m.Architecture(), elapsed.Seconds())
	loadedModels.Inc()

	r.lifecycleMu.RLock()
	if r.closed.Load() {
		r.lifecycleMu.RUnlock()
		r.closeModel(info.Name, m)
		return nil, ErrRegistryClosed
	}
	r.cache.Set(info.Name, m, r.keepAlive)
	r.lifecycleMu.RUnlock()

	r.logger.Info("Successfully loaded model",
		zap.String("model", info.Name),
		zap.Stringer("architecture", m.Architecture()),
		zap.Duration("elapsed", elapsed))
	return m, nil
}

// Info returns the discovery record of name.
func (r *ModelRegistry) Info(name string) (*ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.discovered[name]
	return info, ok
}

// List returns all discovered model names in sorted order.
func (r *ModelRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListLoaded returns only the currently loaded model names, including
// evicted models that are still acquired.
func (r *ModelRegistry) ListLoaded() []string {
	keys := r.cache.Keys()
	r.refCountsMu.Lock()
	for name := range r.pinned {
		if !slices.Contains(keys, name) {
			keys = append(keys, name)
		}
	}
	r.refCountsMu.Unlock()
	sort.Strings(keys)
	return keys
}

// IsLoaded returns whether a model is currently loaded in memory
func (r *ModelRegistry) IsLoaded(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Preload loads the named models concurrently. It fails only when every
// model fails to load.
func (r *ModelRegistry) Preload(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	r.logger.Info("Preloading models", zap.Strings("models", names))

	var loaded, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, name := range names {
		g.Go(func() error {
			if _, err := r.Get(ctx, name); err != nil {
				r.logger.Warn("Failed to preload model", zap.String("model", name), zap.Error(err))
				failed.Add(1)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("Preloading complete",
		zap.Int32("loaded", loaded.Load()),
		zap.Int32("failed", failed.Load()))

	if failed.Load() > 0 && loaded.Load() == 0 {
		return fmt.Errorf("all %d models failed to preload", failed.Load())
	}
	return nil
}

// PreloadAll loads all discovered models.
func (r *ModelRegistry) PreloadAll(ctx context.Context) error {
	return r.Preload(ctx, r.List())
}

// Close stops the cache and unloads all models
func (r *ModelRegistry) Close() error {
	r.lifecycleMu.Lock()
	swapped := r.closed.CompareAndSwap(false, true)
	r.lifecycleMu.Unlock()
	if !swapped {
		return nil
	}
	r.logger.Info("Closing model registry")

	r.cache.Stop()
	for _, key := range r.cache.Keys() {
		if item := r.cache.Get(key); item != nil {
			r.closeModel(key, item.Value())
		}
	}
	// Eviction callbacks won't close since reason is EvictionReasonDeleted
	r.cache.DeleteAll()

	r.refCountsMu.Lock()
	pinned := r.pinned
	r.pinned = make(map[string]transducer.Model)
	r.refCountsMu.Unlock()
	for name, m := range pinned {
		r.closeModel(name, m)
	}
	return nil
}
