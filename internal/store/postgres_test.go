package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM objects WHERE key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateIfAbsent_Created(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO objects .* ON CONFLICT \(key\) DO NOTHING`).
		WithArgs("results/r1.json", []byte("payload")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := s.CreateIfAbsent(context.Background(), "results/r1.json", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateIfAbsent_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO objects .* ON CONFLICT \(key\) DO NOTHING`).
		WithArgs("results/r1.json", []byte("payload")).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.CreateIfAbsent(context.Background(), "results/r1.json", []byte("payload"))
	require.NoError(t, err)
	assert.False(t, created, "losing a write race is not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"key"}).
		AddRow("profiles/a/v1/profile.yaml").
		AddRow("profiles/a/v2/profile.yaml")
	mock.ExpectQuery(`SELECT key FROM objects WHERE key LIKE \$1`).
		WithArgs("profiles/a/").
		WillReturnRows(rows)

	keys, err := s.List(context.Background(), "profiles/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"profiles/a/v1/profile.yaml", "profiles/a/v2/profile.yaml"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
