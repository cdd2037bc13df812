package preset

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"
)

func TestNamePattern(t *testing.T) {
	for _, name := range []string{"thumb", "small_2x", "hero-banner"} {
		assert.True(t, namePattern.MatchString(name), name)
	}
	for _, name := range []string{"", "with.dot", "a/b", "sp ace"} {
		assert.False(t, namePattern.MatchString(name), name)
	}
}

func TestRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := dbpg.New(dsn, nil, &dbpg.Options{MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	defer db.Master.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS presets (
		name VARCHAR(64) PRIMARY KEY,
		query TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	require.NoError(t, err)

	repo := NewRepository(db)
	require.NoError(t, repo.Save(ctx, "test_thumb", "width=10"))
	require.NoError(t, repo.Save(ctx, "test_thumb", "width=20"))
	assert.ErrorIs(t, repo.Save(ctx, "bad.name", "width=1"), ErrInvalidName)

	presets, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "width=20", presets["test_thumb"])
}
