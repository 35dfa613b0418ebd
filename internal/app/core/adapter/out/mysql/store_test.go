package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
	"github.com/JoeShih716/go-transfer-ledger/pkg/mysql"
)

var accountColumns = []string{"username", "password_hash", "balance", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return NewStore(mysql.NewFromDB(gdb)), mock
}

func accountRow(username string, balance int64) *sqlmock.Rows {
	now := time.Now().UnixMilli()
	return sqlmock.NewRows(accountColumns).AddRow(username, "hash", balance, now, now)
}

func TestTransferCommitsThroughRowLocks(t *testing.T) {
	store, mock := newMockStore(t)
	engine := usecase.NewTransferEngine(store, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts` WHERE username = \\?.*FOR UPDATE").
		WillReturnRows(accountRow("alice", 100))
	mock.ExpectQuery("SELECT \\* FROM `accounts` WHERE username = \\?.*FOR UPDATE").
		WillReturnRows(accountRow("bob1", 50))
	mock.ExpectExec("UPDATE `accounts` SET `balance`=\\?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `accounts` SET `balance`=\\?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `transactions`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tran, ok, err := engine.Transfer(context.Background(), "alice", "bob1", 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(30), tran.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferInsufficientFundsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	engine := usecase.NewTransferEngine(store, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(accountRow("alice", 10))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(accountRow("bob1", 0))
	mock.ExpectRollback()

	tran, ok, err := engine.Transfer(context.Background(), "alice", "bob1", 30)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, tran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockWaitTimeoutMapsToTimeout(t *testing.T) {
	store, mock := newMockStore(t)
	engine := usecase.NewTransferEngine(store, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnError(&mysqldriver.MySQLError{Number: errLockWaitTimeout, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()

	_, ok, err := engine.Transfer(context.Background(), "alice", "bob1", 30)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadlockMapsToLockConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(accountRow("alice", 10))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnError(&mysqldriver.MySQLError{Number: errDeadlock, Message: "Deadlock found"})
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		for _, u := range domain.LockOrder("alice", "bob1") {
			if _, err := tx.LockAccount(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrLockConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAccountNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(accountColumns))
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		_, err := tx.LockAccount(ctx, "nobody")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBalanceRequiresLock(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		return tx.SaveBalance(ctx, "alice", 10)
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO `accounts`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `accounts`").
		WillReturnError(&mysqldriver.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"})

	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, domain.NewAccount("alice", "hash", time.Now())))
	err := store.CreateAccount(ctx, domain.NewAccount("alice", "hash", time.Now()))
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionAndList(t *testing.T) {
	store, mock := newMockStore(t)
	tran := domain.NewTransfer("alice", "bob1", 30)
	tran.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "ref_id", "from_user", "to_user", "amount", "created_at"}
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE ref_id = \\?").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, tran.TransactionID[:], "alice", "bob1", 30, tran.CreatedAt.UnixNano()))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE ref_id = \\?").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE \\(?from_user = \\? OR to_user = \\?").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, tran.TransactionID[:], "alice", "bob1", 30, tran.CreatedAt.UnixNano()))

	ctx := context.Background()
	got, err := store.GetTransaction(ctx, tran.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, tran, got)

	_, err = store.GetTransaction(ctx, tran.TransactionID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	list, err := store.ListTransactions(ctx, "bob1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tran.TransactionID, list[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceSummary(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS accounts").
		WillReturnRows(sqlmock.NewRows([]string{"accounts", "total", "negative"}).AddRow(2, 150, 0))

	summary, err := store.BalanceSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.BalanceSummary{Accounts: 2, Total: 150}, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}
