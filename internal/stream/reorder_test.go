package stream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReorderBufferReleasesInOrder(t *testing.T) {
	b := newReorderBuffer()

	b.Put(2, []byte("c"))
	b.Put(1, []byte("b"))
	_, _, ok := b.Pop()
	assert.False(t, ok, "nothing releasable before chunk 0 arrives")
	assert.Equal(t, 2, b.Buffered())

	b.Put(0, []byte("a"))

	var got []byte
	for {
		idx, data, ok := b.Pop()
		if !ok {
			break
		}
		assert.Equal(t, len(got), idx)
		got = append(got, data...)
	}
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, 0, b.Buffered())
}

func TestReorderBufferRandomArrival(t *testing.T) {
	const n = 64
	rng := rand.New(rand.NewSource(1))

	order := rng.Perm(n)
	b := newReorderBuffer()

	released := 0
	for _, idx := range order {
		b.Put(idx, []byte{byte(idx)})
		for {
			got, data, ok := b.Pop()
			if !ok {
				break
			}
			require.Equal(t, released, got)
			require.Equal(t, []byte{byte(got)}, data)
			released++
		}
	}
	assert.Equal(t, n, released)
	assert.Equal(t, 0, b.Buffered())
}
