package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgreSQL SQLSTATE
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// Migrate 套用內嵌的 schema
func Migrate(dsn string, log logrus.FieldLogger) error {
	return postgres.Migrate(dsn, migrationsFS, "migrations", log)
}

type accountRow struct {
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Balance      int64     `db:"balance"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *accountRow) toDomain() *domain.Account {
	return &domain.Account{
		Username:     r.Username,
		Balance:      r.Balance,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

type transactionRow struct {
	TransactionID uuid.UUID `db:"transaction_id"`
	FromUser      string    `db:"from_user"`
	ToUser        string    `db:"to_user"`
	Amount        int64     `db:"amount"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *transactionRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		TransactionID: r.TransactionID,
		FromUser:      r.FromUser,
		ToUser:        r.ToUser,
		Amount:        r.Amount,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

const (
	selectAccount     = `SELECT username, password_hash, balance, created_at FROM accounts WHERE username = $1`
	selectTransaction = `SELECT transaction_id, from_user, to_user, amount, created_at FROM transactions`
)

// Store 以 SELECT ... FOR UPDATE 列鎖實作的帳本
type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// Option 設定 Store
type Option func(*Store)

// WithLockTimeout 每個交易開頭執行 SET LOCAL lock_timeout
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx fn 成功且 ctx 有效才 Commit，其餘一律 Rollback
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err = sqlTx.ExecContext(ctx, stmt); err != nil {
			return translateError(err)
		}
	}

	if err = fn(ctx, &sqlxTx{tx: sqlTx, locked: make(map[string]struct{}, 2)}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return translateError(err)
	}
	return nil
}

// CreateAccount 建立帳戶 (餘額 0)
func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	row := &accountRow{
		Username:     acct.Username,
		PasswordHash: acct.PasswordHash,
		CreatedAt:    acct.CreatedAt,
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO accounts (username, password_hash, balance, created_at)
		 VALUES (:username, :password_hash, 0, :created_at)`, row)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %w", domain.ErrAccountAlreadyExists, err)
	}
	return translateError(err)
}

func (s *Store) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, selectAccount, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var row transactionRow
	if err := s.db.GetContext(ctx, &row, selectTransaction+` WHERE transaction_id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTransactions(ctx context.Context, username string) ([]*domain.Transaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows,
		selectTransaction+` WHERE from_user = $1 OR to_user = $1 ORDER BY created_at, id`, username)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// BalanceSummary 單一語句在同一個 snapshot 內彙總
func (s *Store) BalanceSummary(ctx context.Context) (*domain.BalanceSummary, error) {
	var row struct {
		Accounts int64 `db:"accounts"`
		Total    int64 `db:"total"`
		Negative int64 `db:"negative"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT COUNT(*) AS accounts,
		COALESCE(SUM(balance), 0) AS total,
		COUNT(*) FILTER (WHERE balance < 0) AS negative
		FROM accounts`)
	if err != nil {
		return nil, translateError(err)
	}
	return &domain.BalanceSummary{Accounts: row.Accounts, Total: row.Total, Negative: row.Negative}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// sqlxTx 一個進行中的 PostgreSQL 交易
type sqlxTx struct {
	tx     *sqlx.Tx
	locked map[string]struct{}
}

func (t *sqlxTx) LockAccount(ctx context.Context, username string) (*domain.Account, error) {
	var row accountRow
	if err := t.tx.GetContext(ctx, &row, selectAccount+` FOR UPDATE`, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, translateError(err)
	}
	t.locked[username] = struct{}{}
	return row.toDomain(), nil
}

func (t *sqlxTx) SaveBalance(ctx context.Context, username string, balance int64) error {
	if _, ok := t.locked[username]; !ok {
		return fmt.Errorf("account %q is not locked in this unit of work", username)
	}
	if balance < 0 {
		return fmt.Errorf("refusing negative balance %d for %q", balance, username)
	}
	_, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE username = $2`, balance, username)
	return translateError(err)
}

func (t *sqlxTx) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	for _, username := range tran.GetLockIDs() {
		if _, ok := t.locked[username]; !ok {
			return fmt.Errorf("account %q is not locked in this unit of work", username)
		}
	}
	row := &transactionRow{
		TransactionID: tran.TransactionID,
		FromUser:      tran.FromUser,
		ToUser:        tran.ToUser,
		Amount:        tran.Amount,
		CreatedAt:     tran.CreatedAt,
	}
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO transactions (transaction_id, from_user, to_user, amount, created_at)
		 VALUES (:transaction_id, :from_user, :to_user, :amount, :created_at)`, row)
	return translateError(err)
}

// translateError lock_timeout / statement_timeout 視為逾時，死結與序列化失敗視為鎖衝突
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		case codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %w", domain.ErrLockConflict, err)
		}
	}
	return err
}

var (
	_ usecase.Store = (*Store)(nil)
	_ usecase.Tx    = (*sqlxTx)(nil)
)
