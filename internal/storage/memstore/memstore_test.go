package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/nodefabric/internal/storage"
)

func TestStore_GetExistsBatch(t *testing.T) {
	s := New()

	_, err := s.Get([]byte("missing"))
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	exists, err := s.Exists([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.AtomicBatchWrite([]storage.Write{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	exists, err = s.Exists([]byte("b"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	value := []byte("original")
	require.NoError(t, s.AtomicBatchWrite([]storage.Write{{Key: []byte("k"), Value: value}}))

	value[0] = 'X'
	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got, "the store is isolated from caller mutation")

	got[0] = 'Y'
	again, _ := s.Get([]byte("k"))
	assert.Equal(t, []byte("original"), again)
}
