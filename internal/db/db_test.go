package db

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"go-chat-sync/internal/db/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_RunsEmbeddedMigrations(t *testing.T) {
	orig := gooseUp
	defer func() { gooseUp = orig }()

	var gotDir string
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		gotDir = dir
		return nil
	}

	d := &Database{}
	require.NoError(t, d.Migrate(context.Background()))
	assert.Equal(t, ".", gotDir)
}

func TestMigrate_WrapsError(t *testing.T) {
	orig := gooseUp
	defer func() { gooseUp = orig }()

	boom := errors.New("boom")
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error { return boom }

	err := (&Database{}).Migrate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestMigrations_EmbedInitialSchema(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	assert.Contains(t, files, "00001_init.sql")

	raw, err := fs.ReadFile(migrations.FS, "00001_init.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "conversations_pair_key")
}
