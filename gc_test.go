package flashmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyflash/flashmap/internal/mockflash"
)

// spec.md §8 quantified invariant 7: GC preserves the live key set.
func TestGCPreservesLiveKeySet(t *testing.T) {
	s, _ := newTestStore(mockflash.WriteTwice)
	scratch := make([]byte, 64)

	const n = 100
	for k := uint32(0); k < n; k++ {
		require.NoError(t, s.StoreItem(scratch, item(k, []byte{byte(k), byte(k >> 8), byte(k >> 16)})))
		if k%4 == 0 {
			require.NoError(t, s.RemoveItem(k))
		}
	}

	before := map[uint32]bool{}
	for k := uint32(0); k < n; k++ {
		_, found, err := s.FetchItem(k)
		require.NoError(t, err)
		before[k] = found
	}

	require.NoError(t, s.GC())
	require.NoError(t, s.GC())

	for k := uint32(0); k < n; k++ {
		_, found, err := s.FetchItem(k)
		require.NoError(t, err)
		require.Equal(t, before[k], found, "key %d liveness changed across GC", k)
	}
}
