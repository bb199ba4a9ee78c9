// Package kvtest checks kv.Store implementations against the behaviour the
// document store and the auth simulator depend on.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/kv"
)

// Contract exercises s, which must start empty.
func Contract(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "vector_mock_db_v3", []byte(`{"init":true}`)))
	require.NoError(t, s.Set(ctx, "vector_pin_a", []byte("1")))
	require.NoError(t, s.Set(ctx, "vector_pin_b", []byte("2")))

	got, err := s.Get(ctx, "vector_mock_db_v3")
	require.NoError(t, err)
	assert.JSONEq(t, `{"init":true}`, string(got))

	require.NoError(t, s.Set(ctx, "vector_pin_b", []byte("3")))
	got, err = s.Get(ctx, "vector_pin_b")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))

	keys, err := s.Keys(ctx, "vector_pin_")
	require.NoError(t, err)
	assert.Equal(t, []string{"vector_pin_a", "vector_pin_b"}, keys)

	n, err := kv.DeletePrefix(ctx, s, "vector_pin_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err = s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"vector_mock_db_v3"}, keys)

	require.NoError(t, s.Delete(ctx, "vector_mock_db_v3", "never_written"))
	_, err = s.Get(ctx, "vector_mock_db_v3")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	assert.NoError(t, s.Ping(ctx))
}
