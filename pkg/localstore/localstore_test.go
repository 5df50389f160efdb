package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	_, ok, err := db.Load(ctx, "cart.items.v1")
	require.NoError(t, err)
	require.False(t, ok, "missing namespace must report ok=false")

	require.NoError(t, db.Save(ctx, "cart.items.v1", []byte(`[{"id":"a"}]`)))

	got, ok, err := db.Load(ctx, "cart.items.v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`[{"id":"a"}]`), got)
}

func TestSaveOverwritesNamespace(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Save(ctx, "ns", []byte("one")))
	require.NoError(t, db.Save(ctx, "ns", []byte("two")))

	got, ok, err := db.Load(ctx, "ns")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("two"), got)
}

func TestReopenFileKeepsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx, "ns", []byte("persisted")))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, ok, err := db.Load(ctx, "ns")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("persisted"), got)
}
