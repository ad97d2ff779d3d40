package migrate

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreGooseFiles(t *testing.T) {
	names, err := fs.Glob(Migrations(), "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"00001_access.sql"}, names)

	body, err := fs.ReadFile(Migrations(), names[0])
	require.NoError(t, err)
	up, down, ok := strings.Cut(string(body), "-- +goose Down")
	require.True(t, ok, "missing down section")
	assert.True(t, strings.HasPrefix(up, "-- +goose Up"))
	for _, table := range []string{"granted_privileges", "email_aliases", "slack_access", "memberships"} {
		assert.Contains(t, up, "create table if not exists "+table)
		assert.Contains(t, down, "drop table if exists "+table)
	}
}

func TestNewRunnerListsVersions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r, err := NewRunner(db, Migrations(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r.Versions())
	assert.NoError(t, r.Seed(t.Context()))
}

func TestNewRunnerRejectsDuplicateVersions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"00001_a.sql": {Data: []byte("-- +goose Up\nselect 1;\n")},
		"00001_b.sql": {Data: []byte("-- +goose Up\nselect 2;\n")},
	}
	_, err = NewRunner(db, fsys, nil)
	require.Error(t, err)
}
