package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/kv/kvtest"
)

func TestStore_Contract(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		kvtest.Contract(t, kv.NewMemoryStore())
	})
	t.Run("file", func(t *testing.T) {
		fs, err := kv.NewFileStore(t.TempDir(), nil)
		require.NoError(t, err)
		kvtest.Contract(t, fs)
	})
}
