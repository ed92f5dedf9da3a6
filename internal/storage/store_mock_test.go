package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outagebot/internal/outage"
	logx "outagebot/pkg/logx"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, logx.Nop()), mock
}

func TestAppendFailure(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO snapshots").WillReturnError(errors.New("disk I/O error"))

	_, err := st.Append(context.Background(), outage.NewSnapshot("Zakarpattia", "u", "Para A", time.Now()))
	assert.ErrorContains(t, err, "append snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRecomputesHash(t *testing.T) {
	st, mock := newMockStore(t)
	snap := outage.NewSnapshot("Zakarpattia", "u", "Para A", time.Now())
	snap.ContentHash = "forged"

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("Zakarpattia", "u", "Para A", outage.Digest("Para A"), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(9, 1))

	got, err := st.Append(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)
	assert.Equal(t, outage.Digest("Para A"), got.ContentHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMostRecentBeforeQueryFailure(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM snapshots").WillReturnError(errors.New("database is locked"))

	got, err := st.MostRecentBefore(context.Background(), "Zakarpattia", time.Now())
	assert.Nil(t, got)
	assert.ErrorContains(t, err, "database is locked")
}

func TestPruneRollsBackOnDeleteFailure(t *testing.T) {
	st, mock := newMockStore(t)
	hash := outage.Digest("same")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WithArgs("Zakarpattia", hash).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectQuery("ORDER BY fetched_at ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("ORDER BY fetched_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectExec("DELETE FROM snapshots").WithArgs("Zakarpattia", hash, int64(1), int64(9)).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	removed, err := st.PruneDuplicates(context.Background(), "Zakarpattia", hash, outage.DefaultPrunePolicy)
	assert.Zero(t, removed)
	assert.ErrorContains(t, err, "delete duplicates")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllSubscribersQueryFailure(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("FROM users").WillReturnError(errors.New("no such table: users"))

	subs, err := st.AllSubscribers(context.Background())
	assert.Nil(t, subs)
	assert.ErrorContains(t, err, "list subscribers")
}

func TestRemoveDeliveryTargetFailure(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM chats").WithArgs(int64(77)).WillReturnError(errors.New("readonly database"))

	err := st.RemoveDeliveryTarget(context.Background(), outage.Target{ChatID: 77})
	assert.ErrorContains(t, err, "remove chat 77")
}

func TestNilStore(t *testing.T) {
	var st *Store
	_, err := st.Append(context.Background(), outage.Snapshot{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, st.Close())
}
