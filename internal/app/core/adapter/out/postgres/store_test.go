package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

var accountCols = []string{"username", "password_hash", "balance", "created_at"}

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres"), opts...), mock
}

func lockQuery() string {
	return regexp.QuoteMeta(selectAccount + ` FOR UPDATE`)
}

func TestTransferCommits(t *testing.T) {
	store, mock := newMockStore(t, WithLockTimeout(250*time.Millisecond))
	engine := usecase.NewTransferEngine(store, logger.NewNop())
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout = '250ms'`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(lockQuery()).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("alice", "hash", 100, now))
	mock.ExpectQuery(lockQuery()).WithArgs("bob1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("bob1", "hash", 50, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET balance = $1`)).WithArgs(int64(70), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET balance = $1`)).WithArgs(int64(80), "bob1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tran, ok, err := engine.Transfer(context.Background(), "alice", "bob1", 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", tran.FromUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferInsufficientFundsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	engine := usecase.NewTransferEngine(store, logger.NewNop())
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery()).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("alice", "hash", 5, now))
	mock.ExpectQuery(lockQuery()).WithArgs("bob1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("bob1", "hash", 0, now))
	mock.ExpectRollback()

	_, ok, err := engine.Transfer(context.Background(), "alice", "bob1", 30)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockErrorsAreTranslated(t *testing.T) {
	tests := []struct {
		name string
		code pq.ErrorCode
		want error
	}{
		{"lock timeout", codeLockNotAvailable, domain.ErrTimeout},
		{"deadlock", codeDeadlockDetected, domain.ErrLockConflict},
		{"serialization", codeSerializationFailure, domain.ErrLockConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectQuery(lockQuery()).WillReturnError(&pq.Error{Code: tt.code})
			mock.ExpectRollback()

			err := store.RunInTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
				_, err := tx.LockAccount(ctx, "alice")
				return err
			})
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLockAccountNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery()).WithArgs("nobody").WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		_, err := tx.LockAccount(ctx, "nobody")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO accounts`).WillReturnError(&pq.Error{Code: codeUniqueViolation})

	err := store.CreateAccount(context.Background(), domain.NewAccount("alice", "hash", time.Now()))
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	tran := domain.NewTransfer("alice", "bob1", 30)
	tran.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"transaction_id", "from_user", "to_user", "amount", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta(selectTransaction + ` WHERE transaction_id = $1`)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(tran.TransactionID.String(), "alice", "bob1", 30, tran.CreatedAt))
	mock.ExpectQuery(regexp.QuoteMeta(selectTransaction + ` WHERE transaction_id = $1`)).
		WillReturnRows(sqlmock.NewRows(cols))

	got, err := store.GetTransaction(context.Background(), tran.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, tran, got)

	_, err = store.GetTransaction(context.Background(), tran.TransactionID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceSummary(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) AS accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"accounts", "total", "negative"}).AddRow(3, 300, 0))

	summary, err := store.BalanceSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.BalanceSummary{Accounts: 3, Total: 300}, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}
