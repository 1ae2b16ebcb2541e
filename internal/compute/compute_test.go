package compute

import (
	"path/filepath"
	"testing"

	"github.com/born-ml/fusion/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bytesResource []byte

func (b bytesResource) Size() int { return len(b) }

// memServer keeps buffers in host memory and records dispatches.
type memServer struct {
	freed    int
	executed []string
	syncs    int
}

func (s *memServer) Name() string { return "mem" }

func (s *memServer) Create(data []byte) Handle {
	return NewHandle(bytesResource(append([]byte(nil), data...)), func(Resource) { s.freed++ })
}

func (s *memServer) Empty(size int) Handle {
	return NewHandle(make(bytesResource, size), func(Resource) { s.freed++ })
}

func (s *memServer) Execute(kernel Kernel, _ []Handle) { s.executed = append(s.executed, kernel.ID()) }

func (s *memServer) Read(h Handle) []byte { return h.Resource().(bytesResource) }

func (s *memServer) Sync() { s.syncs++ }

func TestHandleRefCount(t *testing.T) {
	server := &memServer{}
	h := server.Empty(16)
	assert.True(t, h.CanMut())

	c := h.Clone()
	assert.False(t, h.CanMut())
	assert.Equal(t, 2, c.Refs())

	c.Release()
	assert.True(t, h.CanMut())
	h.Release()
	assert.Equal(t, 1, server.freed)
}

func TestHandleContainerStatus(t *testing.T) {
	server := &memServer{}
	handles := NewHandleContainer()
	id := tensor.NewTensorID()
	handles.Register(id, FusionHandle{Handle: server.Empty(16), Strides: []int{2, 1}})

	ro := handles.Get(id, tensor.ReadOnly)
	assert.False(t, ro.Handle.CanMut(), "read-only access shares the buffer")
	assert.Equal(t, 1, handles.Len())
	ro.Handle.Release()

	rw := handles.Get(id, tensor.ReadWrite)
	assert.True(t, rw.Handle.CanMut(), "last access owns the buffer")
	assert.Equal(t, 0, handles.Len())

	assert.Panics(t, func() { handles.Get(id, tensor.ReadOnly) }, "unknown tensor")
	handles.Register(id, rw)
	assert.Panics(t, func() { handles.Get(id, tensor.NotInit) })
}

func TestHandleContainerRegisterReleasesReplaced(t *testing.T) {
	server := &memServer{}
	handles := NewHandleContainer()
	id := tensor.NewTensorID()
	handles.Register(id, FusionHandle{Handle: server.Empty(4), Strides: []int{1}})
	handles.Register(id, FusionHandle{Handle: server.Empty(4), Strides: []int{1}})
	assert.Equal(t, 1, server.freed)
	handles.Drop(id)
	assert.Equal(t, 2, server.freed)
}

func TestElemwiseWorkGroup(t *testing.T) {
	for _, n := range []int{1, 255, 256, 257, 1024, 100_000, 10_000_000} {
		wg := ElemwiseWorkGroup(n, 256)
		assert.GreaterOrEqual(t, wg.Count()*256, n, "n=%d", n)
		assert.Less(t, wg.X, uint32(65535))
		assert.Less(t, wg.Y, uint32(65535))
	}
}

func TestClientStats(t *testing.T) {
	client := NewClient(&memServer{})
	h := client.Create([]byte{1, 2, 3, 4})
	client.Empty(8)
	client.Execute(StaticKernel{Name: "noop"}, []Handle{h})
	assert.Equal(t, []byte{1, 2, 3, 4}, client.Read(h))

	stats := client.Stats()
	assert.Equal(t, 1, stats.Uploads)
	assert.Equal(t, 1, stats.Allocations)
	assert.Equal(t, uint64(8), stats.AllocatedBytes)
	assert.Equal(t, 1, stats.Dispatches)
	assert.Equal(t, 1, stats.Reads)
}

type fakeOp struct {
	name string
	runs *int
}

func (o fakeOp) Name() string { return o.name }
func (o fakeOp) Execute()     { *o.runs++ }

// fakeSet counts how often it is benchmarked and which candidates are executed.
type fakeSet struct {
	key          string
	names        []string
	autotunables int
	fastestCalls []int
	runs         int
}

func (s *fakeSet) Key() string          { return s.key }
func (s *fakeSet) Candidates() []string { return s.names }

func (s *fakeSet) Autotunables() []AutotuneOperation {
	s.autotunables++
	ops := make([]AutotuneOperation, len(s.names))
	for i, n := range s.names {
		ops[i] = fakeOp{name: n, runs: &s.runs}
	}
	return ops
}

func (s *fakeSet) Fastest(index int) AutotuneOperation {
	s.fastestCalls = append(s.fastestCalls, index)
	return fakeOp{name: s.names[index], runs: &s.runs}
}

func TestTunerCachesByKey(t *testing.T) {
	client := NewClient(&memServer{})
	tuner := NewTuner(0, 1, "")

	first := &fakeSet{key: "reduce_dim/8/4/1", names: []string{"naive", "shared_memory"}}
	tuner.Execute(first, client)
	require.Equal(t, 1, first.autotunables)
	require.Len(t, first.fastestCalls, 1)
	assert.Equal(t, 1, tuner.Benchmarks())

	second := &fakeSet{key: "reduce_dim/8/4/1", names: []string{"naive", "shared_memory"}}
	tuner.Execute(second, client)
	assert.Equal(t, 0, second.autotunables, "equivalent shape class must not be benchmarked again")
	assert.Equal(t, first.fastestCalls, second.fastestCalls)
	assert.Equal(t, 1, tuner.Benchmarks())
}

func TestTunerDetectsStaleEntry(t *testing.T) {
	client := NewClient(&memServer{})
	tuner := NewTuner(0, 1, "")
	tuner.cache["mem/k"] = CacheEntry{Fastest: 1, Name: "removed"}

	set := &fakeSet{key: "k", names: []string{"naive", "shared_memory"}}
	tuner.Execute(set, client)
	assert.Equal(t, 1, set.autotunables)
	entry, ok := tuner.Lookup("mem/k")
	require.True(t, ok)
	assert.Equal(t, set.names[entry.Fastest], entry.Name)
}

func TestTunerCachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune", "cache.json")
	client := NewClient(&memServer{})

	tuner := NewTuner(0, 1, path)
	tuner.Execute(&fakeSet{key: "k", names: []string{"naive"}}, client)
	assert.FileExists(t, path)

	reloaded := NewTuner(0, 1, path)
	entry, ok := reloaded.Lookup(DeviceKey("mem", "k"))
	require.True(t, ok)
	assert.Equal(t, "naive", entry.Name)

	set := &fakeSet{key: "k", names: []string{"naive"}}
	reloaded.Execute(set, client)
	assert.Equal(t, 0, set.autotunables)
}

// gpuServer is a memServer reporting another device name.
type gpuServer struct {
	memServer
}

func (s *gpuServer) Name() string { return "gpu" }

func TestTunerKeysByDevice(t *testing.T) {
	tuner := NewTuner(0, 1, "")
	host := NewClient(&memServer{})
	gpu := NewClient(&gpuServer{})

	tuner.Execute(&fakeSet{key: "reduce_dim/8/4/1", names: []string{"naive", "shared_memory"}}, host)
	set := &fakeSet{key: "reduce_dim/8/4/1", names: []string{"naive", "shared_memory"}}
	tuner.Execute(set, gpu)
	assert.Equal(t, 1, set.autotunables, "a result tuned on another device is not reused")
	assert.Equal(t, 2, tuner.Benchmarks())

	_, ok := tuner.Lookup("mem/reduce_dim/8/4/1")
	assert.True(t, ok)
	_, ok = tuner.Lookup("gpu/reduce_dim/8/4/1")
	assert.True(t, ok)
	_, ok = tuner.Lookup("reduce_dim/8/4/1")
	assert.False(t, ok)
}

func TestTunerSyncsAroundSamples(t *testing.T) {
	server := &memServer{}
	client := NewClient(server)
	tuner := NewTuner(1, 3, "")
	set := &fakeSet{key: "k", names: []string{"a", "b"}}
	tuner.Execute(set, client)

	// Per candidate: one warmup run, three timed runs, one sync after warmup and one per sample.
	assert.Equal(t, 2*4+1, set.runs)
	assert.Equal(t, 2*4, server.syncs)
}
