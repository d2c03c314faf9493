package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rosterly/enrol-recon-api/internal/models"
)

func TestImportUnitOfWorkListsChangesWithNullDiff(t *testing.T) {
	db, mock, cleanup := newBatchRepoMock(t)
	defer cleanup()

	cols := []string{"id", "batch_id", "staged_row_id", "tenant_id", "action", "enrollment_id", "diff", "score",
		"is_excluded", "created_at", "updated_at"}
	mock.ExpectBegin()
	// INSERT changes carry no diff; the select must never hand a bare NULL to
	// the json.RawMessage scan.
	mock.ExpectQuery("SELECT (.+)COALESCE\\(pc.diff, 'null'\\) AS diff(.+) FROM proposed_changes pc JOIN staged_rows sr").
		WithArgs("t1", "b1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c1", "b1", "r1", "t1", "INSERT", nil, []byte(`null`), nil, false, time.Now(), time.Now()))
	mock.ExpectCommit()

	uow := NewImportUnitOfWork(db)
	err := uow.InTransaction(context.Background(), func(store ApplyStore) error {
		changes, err := store.ListApplicableChanges(context.Background(), "t1", "b1")
		require.NoError(t, err)
		require.Len(t, changes, 1)
		require.Equal(t, models.ChangeActionInsert, changes[0].Action)
		diff, err := changes[0].DecodeDiff()
		require.NoError(t, err)
		require.Nil(t, diff)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
