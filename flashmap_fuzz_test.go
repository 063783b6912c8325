package flashmap_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyflash/flashmap"
	"github.com/tinyflash/flashmap/internal/mockflash"
)

// FuzzStoreFetchRemove replays a byte-driven sequence of store/fetch/
// remove operations against a shadow map oracle, the native Go fuzzing
// reframing of original_source's fuzz_targets/map.rs: every decoded
// operation is also applied to a plain Go map, and the two are
// compared after every step. This is the property in spec.md §8
// invariant 1, fuzzed instead of scripted.
func FuzzStoreFetchRemove(f *testing.F) {
	f.Add([]byte{0x00, 0x01, 0xAA, 0x01, 0x02, 0xBB, 0x02, 0x01, 0x00})
	f.Add([]byte{0x01, 0x01, 0x01, 0x02, 0x05})

	f.Fuzz(func(t *testing.T, ops []byte) {
		backing, g := newTestGeometry(mockflash.WriteTwice)
		s := flashmap.NewStore[uint32, testItem](backing, g, flashmap.NewNoCache[uint32](), testCodec{})
		if err := s.Recover(); err != nil {
			t.Skip()
		}
		scratch := make([]byte, 128)

		shadow := map[uint32][]byte{}

		// Each operation starts with 3 bytes: [opcode, key, valueLenOrUnused];
		// a store then takes its value from the bytes that follow.
		for len(ops) >= 3 {
			opcode, key, n := ops[0], uint32(ops[1]), int(ops[2])
			ops = ops[3:]

			switch opcode % 3 {
			case 0: // store
				if n > len(scratch)-4 {
					n = len(scratch) - 4
				}
				if n > len(ops) {
					n = len(ops)
				}
				value := append([]byte(nil), ops[:n]...)
				ops = ops[n:]
				err := s.StoreItem(scratch, item(key, value))
				if err == nil {
					shadow[key] = value
				} else if !isExpectedStoreErr(err) {
					t.Fatalf("unexpected StoreItem error: %v", err)
				}
			case 1: // fetch
				got, found, err := s.FetchItem(key)
				if err != nil {
					t.Fatalf("unexpected FetchItem error: %v", err)
				}
				want, wantFound := shadow[key]
				if found != wantFound {
					t.Fatalf("key %d: found=%v want=%v", key, found, wantFound)
				}
				if found && !bytes.Equal(got.value, want) {
					t.Fatalf("key %d: value mismatch: %s", key, cmp.Diff(want, got.value))
				}
			case 2: // remove
				if err := s.RemoveItem(key); err != nil {
					t.Fatalf("unexpected RemoveItem error: %v", err)
				}
				delete(shadow, key)
			}
		}
	})
}

func isExpectedStoreErr(err error) bool {
	var fe *flashmap.Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == flashmap.KindFullStorage
}
