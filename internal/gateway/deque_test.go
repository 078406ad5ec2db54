package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDequeFIFO(t *testing.T) {
	require := require.New(t)
	var d Deque[int]

	_, ok := d.PopFront()
	require.False(ok)

	for i := 0; i < 40; i++ {
		d.PushBack(i)
	}
	require.Equal(40, d.Len())
	for i := 0; i < 25; i++ {
		v, ok := d.PopFront()
		require.True(ok)
		require.Equal(i, v)
	}
	// wrap around the ring
	for i := 40; i < 70; i++ {
		d.PushBack(i)
	}
	require.Equal(45, d.Len())
	require.Equal(25, d.At(0))
	require.Equal(69, d.At(44))

	front, ok := d.Front()
	require.True(ok)
	require.Equal(25, front)
}

func TestDequeBothEnds(t *testing.T) {
	require := require.New(t)
	var d Deque[string]

	d.PushBack("b")
	d.PushFront("a")
	d.PushBack("c")
	require.Equal("a", d.At(0))
	require.Equal("c", d.At(2))

	v, ok := d.PopBack()
	require.True(ok)
	require.Equal("c", v)
	v, _ = d.PopFront()
	require.Equal("a", v)
	v, _ = d.PopBack()
	require.Equal("b", v)
	require.Zero(d.Len())
	require.Panics(func() { d.At(0) })
}
