package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	data := []byte("name: sharding_db\n")
	require.NoError(t, s.Put(ctx, "a/v1.yaml", bytes.NewReader(data), int64(len(data)), "application/yaml",
		PutOptions{Metadata: map[string]string{"instance": "i-1"}}))

	rc, err := s.Get(ctx, "a/v1.yaml")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	meta, err := s.Head(ctx, "a/v1.yaml")
	require.NoError(t, err)
	assert.Equal(t, "i-1", meta.Metadata["instance"])
	assert.EqualValues(t, len(data), meta.Size)

	err = s.Put(ctx, "a/v1.yaml", bytes.NewReader(data), int64(len(data)), "application/yaml", PutOptions{IfNoneMatch: "*"})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, s.Put(ctx, "a/v2.yaml", bytes.NewReader(data), 0, "", PutOptions{}))
	require.NoError(t, s.Put(ctx, "b/v1.yaml", bytes.NewReader(data), 0, "", PutOptions{}))
	list, err := s.List(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a/v1.yaml", list[0].Key)
	assert.Equal(t, "a/v2.yaml", list[1].Key)

	require.NoError(t, s.Delete(ctx, "a/v1.yaml"))
	require.NoError(t, s.Delete(ctx, "a/v1.yaml"))
	_, err = s.Get(ctx, "a/v1.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Close())
	_, err = s.List(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
}
