package compute

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AutotuneOperation is one runnable candidate of an autotuned operation.
type AutotuneOperation interface {
	// Name identifies the implementation; it is stored in the cache.
	Name() string
	// Execute enqueues the operation on the device.
	Execute()
}

// AutotuneOperationSet is a family of interchangeable implementations of one operation.
type AutotuneOperationSet interface {
	// Key is the shape class the benchmark result applies to.
	Key() string
	// Candidates lists the implementation names in the order used by Autotunables and Fastest.
	Candidates() []string
	// Autotunables returns every implementation bound to fresh random inputs of the real shapes.
	Autotunables() []AutotuneOperation
	// Fastest returns implementation index bound to the real tensors.
	Fastest(index int) AutotuneOperation
}

// CacheEntry is the benchmark result for one key.
type CacheEntry struct {
	Fastest int             `json:"fastest"`
	Name    string          `json:"name"`
	Timings []time.Duration `json:"timings_ns,omitempty"`
}

type cacheFile struct {
	Version int                   `json:"version"`
	Entries map[string]CacheEntry `json:"entries"`
}

// cacheVersion 2 scopes every key to its device.
const cacheVersion = 2

// DeviceKey scopes the key of an operation set to the device it is tuned on, since the
// fastest candidate of one device says nothing about another.
func DeviceKey(device, key string) string {
	return device + "/" + key
}

// Tuner benchmarks autotune operation sets and remembers the fastest candidate per key.
type Tuner struct {
	mu      sync.Mutex
	cache   map[string]CacheEntry
	warmup  int
	samples int
	path    string

	benchmarks int

	// OnCandidate, when set, is called before every candidate is benchmarked.
	OnCandidate func(key, name string)
}

// NewTuner returns a tuner that runs warmup untimed and samples timed executions per candidate.
// When path is not empty the cache is loaded from it and saved after every new result.
func NewTuner(warmup, samples int, path string) *Tuner {
	t := &Tuner{
		cache:   make(map[string]CacheEntry),
		warmup:  max(warmup, 0),
		samples: max(samples, 1),
		path:    path,
	}
	if path != "" {
		if err := t.LoadCache(path); err != nil && !os.IsNotExist(errors.Cause(err)) {
			klog.Warningf("autotune: ignoring cache %s: %v", path, err)
		}
	}
	return t
}

var (
	defaultTunerMu sync.Mutex
	defaultTuner   *Tuner
)

// DefaultTuner returns the process-wide tuner, creating it on first use.
func DefaultTuner() *Tuner {
	defaultTunerMu.Lock()
	defer defaultTunerMu.Unlock()
	if defaultTuner == nil {
		defaultTuner = NewTuner(1, 3, "")
	}
	return defaultTuner
}

// SetDefaultTuner replaces the process-wide tuner.
func SetDefaultTuner(t *Tuner) {
	defaultTunerMu.Lock()
	defer defaultTunerMu.Unlock()
	defaultTuner = t
}

// Execute runs the fastest candidate of set, benchmarking the set first unless its key is cached.
func (t *Tuner) Execute(set AutotuneOperationSet, client *Client) {
	index := t.fastestIndex(set, client)
	set.Fastest(index).Execute()
}

// Lookup returns the cached entry of key, as built by DeviceKey.
func (t *Tuner) Lookup(key string) (CacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[key]
	return entry, ok
}

// Benchmarks returns how many operation sets were benchmarked.
func (t *Tuner) Benchmarks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.benchmarks
}

// Len returns the number of cached keys.
func (t *Tuner) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

func (t *Tuner) fastestIndex(set AutotuneOperationSet, client *Client) int {
	key := DeviceKey(client.Name(), set.Key())
	candidates := set.Candidates()

	t.mu.Lock()
	entry, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		if entry.Fastest < len(candidates) && candidates[entry.Fastest] == entry.Name {
			klog.V(1).Infof("autotune: cache hit %s -> %s", key, entry.Name)
			return entry.Fastest
		}
		klog.Warningf("autotune: stale entry for %s (%s), tuning again", key, entry.Name)
	}

	klog.V(1).Infof("autotune: cache miss %s, benchmarking %d candidates", key, len(candidates))
	entry = t.benchmark(key, set, client)

	t.mu.Lock()
	t.cache[key] = entry
	t.benchmarks++
	t.mu.Unlock()
	klog.Infof("autotune: %s -> %s", key, entry.Name)

	if t.path != "" {
		if err := t.SaveCache(t.path); err != nil {
			klog.Warningf("autotune: %v", err)
		}
	}
	return entry.Fastest
}

func (t *Tuner) benchmark(key string, set AutotuneOperationSet, client *Client) CacheEntry {
	ops := set.Autotunables()
	if len(ops) == 0 {
		exceptions.Panicf("autotune: %s has no candidates", key)
	}
	timings := make([]time.Duration, len(ops))
	for i, op := range ops {
		if t.OnCandidate != nil {
			t.OnCandidate(key, op.Name())
		}
		timings[i] = t.measure(op, client)
		klog.V(1).Infof("autotune: %s %s %v", key, op.Name(), timings[i])
	}
	fastest := 0
	for i, d := range timings {
		if d < timings[fastest] {
			fastest = i
		}
	}
	return CacheEntry{Fastest: fastest, Name: ops[fastest].Name(), Timings: timings}
}

// measure returns the median of the timed runs, syncing the device around each one.
func (t *Tuner) measure(op AutotuneOperation, client *Client) time.Duration {
	for range t.warmup {
		op.Execute()
	}
	client.Sync()
	samples := make([]time.Duration, t.samples)
	for i := range samples {
		start := time.Now()
		op.Execute()
		client.Sync()
		samples[i] = time.Since(start)
	}
	slices.Sort(samples)
	return samples[len(samples)/2]
}

// LoadCache merges the entries stored at path into the cache.
func (t *Tuner) LoadCache(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading autotune cache")
	}
	var file cacheFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return errors.Wrapf(err, "decoding autotune cache %s", path)
	}
	if file.Version != cacheVersion {
		return errors.Errorf("autotune cache %s has version %d, want %d", path, file.Version, cacheVersion)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range file.Entries {
		t.cache[key] = entry
	}
	return nil
}

// SaveCache writes the cache to path.
func (t *Tuner) SaveCache(path string) error {
	t.mu.Lock()
	file := cacheFile{Version: cacheVersion, Entries: make(map[string]CacheEntry, len(t.cache))}
	for key, entry := range t.cache {
		file.Entries[key] = entry
	}
	t.mu.Unlock()

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding autotune cache")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating autotune cache directory")
		}
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errors.Wrapf(err, "writing autotune cache %s", path)
	}
	return nil
}
