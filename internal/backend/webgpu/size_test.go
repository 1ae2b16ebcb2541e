package webgpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		size, want uint64
	}{
		{0, 256},
		{4, 256},
		{256, 256},
		{257, 512},
		{4096, 4096},
		{4097, 8192},
		{3 << 20, 4 << 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeClass(tt.size), "size %d", tt.size)
	}
}

func TestAlign4(t *testing.T) {
	assert.Equal(t, uint64(0), align4(0))
	assert.Equal(t, uint64(4), align4(1))
	assert.Equal(t, uint64(8), align4(8))
	assert.Equal(t, uint64(12), align4(9))
}

func TestMemoryTracker(t *testing.T) {
	var m memoryTracker
	m.allocate(1024)
	m.allocate(512)
	m.release(1024)
	assert.Equal(t, MemoryStats{LiveBytes: 512, PeakBytes: 1536, LiveBuffers: 1}, m.stats)

	m.release(4096)
	assert.Zero(t, m.stats.LiveBytes)
}
