package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE time_slots").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	m := NewTxManager(mock, time.Second)
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, TxFromContext(ctx))
		_, err := Conn(ctx, mock).Exec(ctx, "UPDATE time_slots SET status = 'booked'")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("audit insert failed")
	m := NewTxManager(mock, 0)
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackOnPanic(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	m := NewTxManager(mock, 0)
	assert.Panics(t, func() {
		_ = m.WithinTx(context.Background(), func(ctx context.Context) error {
			panic("step blew up")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_ClassifiesWriteConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	m := NewTxManager(mock, 0)
	pgErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		return pgErr
	})

	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.ErrorIs(t, err, pgErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RejectsNesting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	m := NewTxManager(mock, 0)
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		return m.WithinTx(ctx, func(context.Context) error { return nil })
	})

	assert.ErrorIs(t, err, ErrNestedTx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	plain := errors.New("plain")
	assert.Same(t, plain, Classify(plain))
	assert.Nil(t, Classify(nil))

	for _, code := range []string{"40001", "40P01", "23505", "55P03"} {
		assert.ErrorIs(t, Classify(&pgconn.PgError{Code: code}), ErrWriteConflict, code)
	}
	assert.NotErrorIs(t, Classify(&pgconn.PgError{Code: "23503"}), ErrWriteConflict)

	once := Classify(&pgconn.PgError{Code: "40P01"})
	assert.Same(t, once, Classify(once))
}

func TestConn_FallsBackWithoutTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	assert.Nil(t, TxFromContext(context.Background()))
	assert.Equal(t, Querier(mock), Conn(context.Background(), mock))
}
