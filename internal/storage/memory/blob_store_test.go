package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("png-bytes")
	uri, err := store.PutObject(context.Background(), "challenges/a.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://challenges/a.png", uri)

	payload[0] = 'P'
	blob, ok := store.Object("challenges/a.png")
	require.True(t, ok)
	require.Equal(t, "png-bytes", string(blob.Data))
	require.Equal(t, "image/png", blob.ContentType)

	blob.Data[0] = 'X'
	again, _ := store.Object("challenges/a.png")
	require.Equal(t, "png-bytes", string(again.Data))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"b.png", "a.png"} {
		_, err := store.PutObject(ctx, p, "image/png", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a.png", "b.png"}, store.Paths())

	_, err := store.PutObject(ctx, "", "image/png", bytes.NewReader(nil))
	require.Error(t, err)
	_, ok := store.Object("missing.png")
	require.False(t, ok)
}
