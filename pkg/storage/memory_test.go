package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetAbsentKey(t *testing.T) {
	m := NewMemory()

	value, err := m.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryPutGetDelete(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Put("k", []byte("v1")))
	value, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, m.Put("k", []byte("v2")))
	value, err = m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	require.NoError(t, m.Delete("k"))
	value, err = m.Get("k")
	require.NoError(t, err)
	assert.Nil(t, value)

	// Deleting again succeeds
	require.NoError(t, m.Delete("k"))
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()

	original := []byte("payload")
	require.NoError(t, m.Put("k", original))
	original[0] = 'X'

	stored, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), stored)

	// Mutating the returned slice must not affect stored state
	stored[0] = 'Y'
	again, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), again)
}

func TestMemoryLen(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, 0, m.Len())

	require.NoError(t, m.Put("a", []byte("1")))
	require.NoError(t, m.Put("b", []byte("2")))
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete("a"))
	assert.Equal(t, 1, m.Len())
}
