package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenCreatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, path, db.Path())

	for _, table := range []string{"nodes", "edges", "collections", "vector_documents"} {
		var name string
		err := db.Conn().QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestForeignKeyCascade(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	conn := db.Conn()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO nodes (id, label, properties, created_at, updated_at)
		VALUES ('a', 'Entity', '{}', datetime('now'), datetime('now')),
		       ('b', 'Entity', '{}', datetime('now'), datetime('now'))`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, relationship_type, properties, weight, created_at)
		VALUES ('e1', 'a', 'b', 'REL', '{}', 1.0, datetime('now'))`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `DELETE FROM nodes WHERE id = 'a'`)
	require.NoError(t, err)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges`).Scan(&count))
	assert.Equal(t, 0, count, "edge rows must cascade with their endpoint")
}

func TestSizeBytesGrows(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Greater(t, db.SizeBytes(), int64(0))
}

func TestCloseIdempotent(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)

	assert.False(t, db.Closed())
	require.NoError(t, db.Close())
	assert.True(t, db.Closed())
	require.NoError(t, db.Close())
}
