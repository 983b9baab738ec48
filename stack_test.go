package coop_test

import (
	"testing"

	"github.com/naxaea/coop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapAllocator(t *testing.T) {
	a := coop.HeapAllocator()

	region := a.Allocate(100)
	require.NotNil(t, region)
	assert.Len(t, region, 100)

	a.Release(region) // no-op, must not panic

	assert.Nil(t, a.Allocate(0))
	assert.Nil(t, a.Allocate(-1))
}

func TestMmapAllocator(t *testing.T) {
	a := coop.MmapAllocator()

	region := a.Allocate(4096)
	require.NotNil(t, region)
	assert.Len(t, region, 4096)

	region[0] = 0xFF
	region[4095] = 0xFF

	a.Release(region)
}

// Spawn rounds the payload up to a 16-byte multiple, as spec.md §4.3
// requires ("The payload size is rounded up to a multiple of 16").
func TestSpawnAlignsPayload(t *testing.T) {
	rt := coop.New(coop.WithStackAllocator(&recordingAllocator{}))

	rt.Run(func(rt *coop.Runtime) {
		_, err := rt.Spawn(func([]byte) {}, make([]byte, 17), nil)
		require.NoError(t, err)
		rt.Yield()
	})
}

type recordingAllocator struct{ sizes []int }

func (a *recordingAllocator) Allocate(size int) []byte {
	a.sizes = append(a.sizes, size)
	if size%16 != 0 {
		panic("size not 16-byte aligned")
	}
	return make([]byte, size)
}

func (a *recordingAllocator) Release([]byte) {}
