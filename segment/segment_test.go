package segment

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagesFor(t *testing.T) {
	tests := []struct {
		need  uint64
		pages int
		want  int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{PageSize, 0, 1},
		{PageSize + 1, 0, 2},
		{PageSize, 1, 0},
		{PageSize + 1, 1, 1},
		{5*PageSize - 1, 2, 3},
		{3 * PageSize, 3, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PagesFor(tt.need, tt.pages), "need=%d pages=%d", tt.need, tt.pages)
	}
}

func TestHeap(t *testing.T) {
	testSegment(t, NewHeap(4))
}

func TestMapped(t *testing.T) {
	m, err := OpenMapped(filepath.Join(t.TempDir(), "seg.bin"), 4)
	require.NoError(t, err)
	testSegment(t, m)
}

func testSegment(t *testing.T, s Segment) {
	t.Helper()
	defer s.Close()

	require.Equal(t, 0, s.Pages())
	require.NoError(t, Reserve(s, 10))
	require.Equal(t, 1, s.Pages())
	require.Equal(t, uint64(PageSize), Capacity(s))

	s.StoreUint64(8, 0x1122334455667788)
	s.StoreBytes(PageSize-3, []byte("abc"))

	prev, err := s.Grow(2)
	require.NoError(t, err)
	assert.Equal(t, 1, prev)
	assert.Equal(t, 3, s.Pages())

	assert.Equal(t, uint64(0x1122334455667788), s.LoadUint64(8))
	assert.Equal(t, []byte("abc"), s.LoadBytes(PageSize-3, 3))
	assert.Equal(t, []byte("abc"), s.View(PageSize-3, 3))
	assert.Equal(t, make([]byte, 16), s.LoadBytes(2*PageSize, 16), "new pages must be zeroed")

	b := s.LoadBytes(PageSize-3, 3)
	b[0] = 'x'
	assert.Equal(t, []byte("abc"), s.LoadBytes(PageSize-3, 3), "LoadBytes must copy")

	_, err = s.Grow(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, s.Pages(), "failed growth must not change size")

	require.NoError(t, Reserve(s, 4*PageSize))
	assert.Equal(t, 4, s.Pages())
	assert.ErrorIs(t, Reserve(s, 4*PageSize+1), ErrExhausted)
}

func TestMapped_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.bin")

	m, err := OpenMapped(path, 0)
	require.NoError(t, err)
	require.NoError(t, Reserve(m, 3*PageSize))
	m.StoreBytes(2*PageSize+7, []byte("persisted"))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	m, err = OpenMapped(path, 0)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 3, m.Pages())
	assert.Equal(t, []byte("persisted"), m.LoadBytes(2*PageSize+7, 9))
}

func TestGrow_PanicsOnNegative(t *testing.T) {
	assert.Panics(t, func() { _, _ = NewHeap(0).Grow(-1) })
}
