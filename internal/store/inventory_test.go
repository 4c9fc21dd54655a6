package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewStoreWithDB(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestMarkSoldAllUnitsStillAvailable(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_units")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := st.MarkSold(context.Background(), st.DB(), []int64{1, 2, 3}, 500)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSoldStaleAllocation(t *testing.T) {
	st, mock := newMockStore(t)

	// A concurrent settlement already claimed one of the three units.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_units")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := st.MarkSold(context.Background(), st.DB(), []int64{1, 2, 3}, 500)
	assert.ErrorIs(t, err, ErrStaleAllocation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSoldEmptyListIsNoop(t *testing.T) {
	st, mock := newMockStore(t)

	err := st.MarkSold(context.Background(), st.DB(), nil, 500)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAvailableReturnsFewerThanRequested(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM inventory_units")).
		WithArgs(int64(1), 5).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(11).AddRow(12))

	ids, err := st.ReserveAvailable(context.Background(), st.DB(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveAvailableUnitNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM inventory_units")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.RemoveAvailableUnit(context.Background(), st.DB(), 1, 99)
	assert.ErrorIs(t, err, ErrUnitNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
