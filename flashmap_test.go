package flashmap_test

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyflash/flashmap"
	"github.com/tinyflash/flashmap/internal/mockflash"
)

// testItem is the Item[uint32] implementation shared across the test
// suite: a 4-byte big-endian key followed by an arbitrary-length value.
type testItem struct {
	key   uint32
	value []byte
}

func item(key uint32, value []byte) testItem {
	return testItem{key: key, value: value}
}

func (it testItem) Key() uint32 { return it.key }

func (it testItem) SerializeInto(buf []byte) (int, error) {
	need := 4 + len(it.value)
	if len(buf) < need {
		return 0, flashmap.ErrScratchTooSmall
	}
	binary.BigEndian.PutUint32(buf[:4], it.key)
	copy(buf[4:need], it.value)
	return need, nil
}

type testCodec struct{}

func (testCodec) DeserializeFrom(buf []byte) (testItem, error) {
	if len(buf) < 4 {
		return testItem{}, fmt.Errorf("flashmap_test: frame too short to hold a key: %d bytes", len(buf))
	}
	key := binary.BigEndian.Uint32(buf[:4])
	value := append([]byte(nil), buf[4:]...)
	return testItem{key: key, value: value}, nil
}

func (testCodec) DeserializeKeyOnly(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("flashmap_test: frame too short to hold a key: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint32(buf[:4]), nil
}

// newTestGeometry builds the spec's canonical 4-page x 256-word x
// 4-byte-word mock flash (spec.md §8 "Concrete scenarios").
func newTestGeometry(policy mockflash.WriteCountPolicy) (*mockflash.Flash, flashmap.Geometry) {
	const (
		wordSize  = 4
		pageWords = 256
		pageCount = 4
	)
	f := mockflash.New(wordSize, pageWords*wordSize, pageCount, policy)
	g, err := flashmap.NewGeometry(f, 0, uint32(pageCount*pageWords*wordSize))
	if err != nil {
		panic(err)
	}
	return f, g
}

func newTestStore(policy mockflash.WriteCountPolicy) (*flashmap.Store[uint32, testItem], *mockflash.Flash) {
	f, g := newTestGeometry(policy)
	s := flashmap.NewStore[uint32, testItem](f, g, flashmap.NewNoCache[uint32](), testCodec{})
	if err := s.Recover(); err != nil {
		panic(err)
	}
	return s, f
}
