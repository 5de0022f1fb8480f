package kv

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/prwatch/internal/storage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "salt", []byte{0x01, 0x02}))

	v, err := r.Get(ctx, "salt")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, v)
}

func TestGet_Absent_ReturnsNilNil(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	v, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSet_Upserts(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("old")))
	require.NoError(t, r.Set(ctx, "k", []byte("new")))

	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func storedValues(t *testing.T, r *SQLiteRepository, keys ...string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, k := range keys {
		v, err := r.Get(context.Background(), k)
		require.NoError(t, err)
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func TestSetManyAndDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	keys := []string{"encrypted_token", "token_iv", "salt"}

	require.NoError(t, r.SetMany(ctx, map[string][]byte{
		"encrypted_token": []byte("ct"),
		"token_iv":        []byte("iv"),
		"salt":            []byte("s"),
	}))
	assert.Len(t, storedValues(t, r, keys...), 3)

	require.NoError(t, r.Delete(ctx, "encrypted_token", "token_iv", "missing"))
	assert.Equal(t, map[string][]byte{"salt": []byte("s")}, storedValues(t, r, keys...))
}

func TestSetMany_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO storage").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	r := NewSQLiteRepository(db)
	err = r.SetMany(context.Background(), map[string][]byte{"a": []byte("1")})
	require.ErrorContains(t, err, "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT value FROM storage").WillReturnError(errors.New("locked"))

	_, err = NewSQLiteRepository(db).Get(context.Background(), "salt")
	require.ErrorContains(t, err, "storage[salt]")
}
