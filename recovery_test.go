package flashmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyflash/flashmap"
	"github.com/tinyflash/flashmap/internal/mockflash"
)

// spec.md §8 quantified invariant 6: recovery (close + reopen) produces
// a state with the same fetch responses for every key.
func TestRecoveryPreservesFetchResponses(t *testing.T) {
	backing, g := newTestGeometry(mockflash.WriteTwice)
	s1 := flashmap.NewStore[uint32, testItem](backing, g, flashmap.NewNoCache[uint32](), testCodec{})
	require.NoError(t, s1.Recover())

	scratch := make([]byte, 64)
	for k := uint32(0); k < 40; k++ {
		require.NoError(t, s1.StoreItem(scratch, item(k, []byte{byte(k)})))
	}
	require.NoError(t, s1.RemoveItem(5))

	// "Reopen": a fresh Store over the same backing flash and a cold cache.
	s2 := flashmap.NewStore[uint32, testItem](backing, g, flashmap.NewNoCache[uint32](), testCodec{})
	require.NoError(t, s2.Recover())

	for k := uint32(0); k < 40; k++ {
		v1, f1, err1 := s1.FetchItem(k)
		v2, f2, err2 := s2.FetchItem(k)
		require.NoError(t, err1)
		require.NoError(t, err2)
		require.Equal(t, f1, f2, "key %d presence mismatch after reopen", k)
		if f1 {
			require.Equal(t, v1.value, v2.value, "key %d value mismatch after reopen", k)
		}
	}
}

func TestRecoveryFirstBootFormatsPageZero(t *testing.T) {
	backing, g := newTestGeometry(mockflash.WriteTwice)
	s := flashmap.NewStore[uint32, testItem](backing, g, flashmap.NewNoCache[uint32](), testCodec{})
	require.NoError(t, s.Recover())

	st, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.PartialOpen)
}

func TestRecoveryReconcilesMultiplePartialOpens(t *testing.T) {
	backing, g := newTestGeometry(mockflash.WriteTwice)
	w := backing.WordSize()
	pageSize := uint32(backing.PageSize())

	// Simulate a crash mid-rotation: page 0 was properly Open+Closed,
	// then page 1's open marker landed (promoting it to PartialOpen)
	// but page 0's close marker write was never observed to complete —
	// here we instead model the simpler, equally illegal case the spec
	// calls out directly: two pages both read PartialOpen. Mark page
	// 0's open word and page 2's open word, leaving both without a
	// close marker.
	require.NoError(t, backing.WriteAt(g.Base+0*pageSize, make([]byte, w)))
	require.NoError(t, backing.WriteAt(g.Base+2*pageSize, make([]byte, w)))

	s := flashmap.NewStore[uint32, testItem](backing, g, flashmap.NewNoCache[uint32](), testCodec{})
	require.NoError(t, s.Recover())

	st, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.PartialOpen, "recovery must leave exactly one PartialOpen page")
}
