package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New("http://localhost:8080/media")

	err := store.Upload(ctx, "2026/03/banner.png", strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)

	rc, err := store.Download(ctx, "2026/03/banner.png")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	ct, ok := store.ContentType("2026/03/banner.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", ct)

	assert.Equal(t, "http://localhost:8080/media/2026/03/banner.png", store.URL("2026/03/banner.png"))

	require.NoError(t, store.Delete(ctx, "2026/03/banner.png"))
	_, err = store.Download(ctx, "2026/03/banner.png")
	assert.ErrorIs(t, err, fromscratch.ErrMediaNotFound)
}

func TestStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	store := New("http://localhost:8080/media")

	_, err := store.Download(ctx, "nope")
	assert.ErrorIs(t, err, fromscratch.ErrMediaNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "nope"), fromscratch.ErrMediaNotFound)
}
