package flashmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyflash/flashmap"
	"github.com/tinyflash/flashmap/internal/mockflash"
)

type cacheOp struct {
	remove bool
	key    uint32
	value  byte
}

// spec.md §8 quantified invariant 5: for all cache choices, the
// externally observable outputs of a sequence of operations match
// what NoCache produces.
func TestCacheShapesAgreeWithNoCache(t *testing.T) {
	caches := map[string]func(pageCount int) flashmap.Cache[uint32]{
		"NoCache": func(int) flashmap.Cache[uint32] {
			return flashmap.NewNoCache[uint32]()
		},
		"PageStateCache": func(n int) flashmap.Cache[uint32] {
			return flashmap.NewPageStateCache[uint32](n)
		},
		"PagePointerCache": func(n int) flashmap.Cache[uint32] {
			return flashmap.NewPagePointerCache[uint32](n)
		},
		"KeyPointerCache": func(n int) flashmap.Cache[uint32] {
			return flashmap.NewKeyPointerCache[uint32](n, 8)
		},
	}

	ops := []cacheOp{
		{key: 1, value: 0xAA},
		{key: 2, value: 0xBB},
		{key: 1, value: 0xCC},
		{remove: true, key: 2},
		{key: 3, value: 0xDD},
		{key: 1, value: 0xEE},
		{remove: true, key: 1},
		{key: 4, value: 0xFF},
	}

	_, g := newTestGeometry(mockflash.WriteTwice)
	reference := runCacheOps(t, flashmap.NewNoCache[uint32](), ops)

	for name, mk := range caches {
		t.Run(name, func(t *testing.T) {
			got := runCacheOps(t, mk(g.PageCount), ops)
			require.Equal(t, reference, got)
		})
	}
}

func runCacheOps(t *testing.T, cache flashmap.Cache[uint32], ops []cacheOp) map[uint32][]byte {
	t.Helper()
	f, g := newTestGeometry(mockflash.WriteTwice)
	s := flashmap.NewStore[uint32, testItem](f, g, cache, testCodec{})
	require.NoError(t, s.Recover())

	scratch := make([]byte, 64)
	for _, o := range ops {
		if o.remove {
			require.NoError(t, s.RemoveItem(o.key))
			continue
		}
		require.NoError(t, s.StoreItem(scratch, item(o.key, []byte{o.value})))
	}

	result := map[uint32][]byte{}
	for k := uint32(1); k <= 4; k++ {
		v, found, err := s.FetchItem(k)
		require.NoError(t, err)
		if found {
			result[k] = v.value
		}
	}
	return result
}
