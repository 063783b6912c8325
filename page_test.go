package flashmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyflash/flashmap"
	"github.com/tinyflash/flashmap/internal/mockflash"
)

func TestGeometryRejectsUnaligned(t *testing.T) {
	f, _ := newTestGeometry(mockflash.WriteTwice)
	_, err := flashmap.NewGeometry(f, 1, uint32(f.PageSize()*f.PageCount()))
	require.Error(t, err)
	var fe *flashmap.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, flashmap.KindStorage, fe.Kind)
}

func TestGeometryRejectsSinglePage(t *testing.T) {
	f, _ := newTestGeometry(mockflash.WriteTwice)
	_, err := flashmap.NewGeometry(f, 0, uint32(f.PageSize()))
	require.Error(t, err)
}

func TestGeometryAcceptsValidSubrange(t *testing.T) {
	f, _ := newTestGeometry(mockflash.WriteTwice)
	g, err := flashmap.NewGeometry(f, 0, uint32(2*f.PageSize()))
	require.NoError(t, err)
	require.Equal(t, 2, g.PageCount)
}
