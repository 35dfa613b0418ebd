package mysql

import (
	"context"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/mysql"
)

// MySQL 錯誤碼
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errDuplicateEntry  = 1062
)

// Store 以 InnoDB 列鎖 (SELECT ... FOR UPDATE) 實作的帳本
type Store struct {
	client *mysql.Client
}

func NewStore(client *mysql.Client) *Store {
	return &Store{
		client: client,
	}
}

// Migrate 建立 accounts / transactions 表
func (s *Store) Migrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

// RunInTx 以一個資料庫交易執行 fn
// fn 回傳錯誤時 gorm 會 Rollback；ctx 取消時 database/sql 也會自動 Rollback
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.client.DB().WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &gormTx{db: db, locked: make(map[string]struct{}, 2)})
	})
	return translateError(err)
}

// CreateAccount 建立帳戶 (餘額 0)
func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	row := &sqlAccount{
		Username:     acct.Username,
		PasswordHash: acct.PasswordHash,
		CreatedAt:    acct.CreatedAt.UnixMilli(),
	}
	err := s.client.DB().WithContext(ctx).Create(row).Error
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
		return fmt.Errorf("%w: %w", domain.ErrAccountAlreadyExists, err)
	}
	return translateError(err)
}

// GetAccount 讀取已提交的帳戶狀態 (不上鎖)
func (s *Store) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	var row sqlAccount
	err := s.client.DB().WithContext(ctx).Where("username = ?", username).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, translateError(err)
	}
	return row.toDomain(), nil
}

// GetTransaction 依交易 ID 查詢
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var row sqlTransaction
	err := s.client.DB().WithContext(ctx).Where("ref_id = ?", id[:]).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, translateError(err)
	}
	return row.toDomain()
}

// ListTransactions 列出使用者相關交易
func (s *Store) ListTransactions(ctx context.Context, username string) ([]*domain.Transaction, error) {
	var rows []sqlTransaction
	err := s.client.DB().WithContext(ctx).
		Where("from_user = ? OR to_user = ?", username, username).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tran, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tran)
	}
	return out, nil
}

// BalanceSummary 單一 SELECT 彙總，InnoDB 一致性讀只會看到已提交的交易
func (s *Store) BalanceSummary(ctx context.Context) (*domain.BalanceSummary, error) {
	var row struct {
		Accounts int64
		Total    int64
		Negative int64
	}
	err := s.client.DB().WithContext(ctx).Model(&sqlAccount{}).
		Select("COUNT(*) AS accounts, COALESCE(SUM(balance), 0) AS total, " +
			"COALESCE(SUM(CASE WHEN balance < 0 THEN 1 ELSE 0 END), 0) AS negative").
		Scan(&row).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &domain.BalanceSummary{Accounts: row.Accounts, Total: row.Total, Negative: row.Negative}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// gormTx 一個進行中的資料庫交易
type gormTx struct {
	db     *gorm.DB
	locked map[string]struct{}
}

// LockAccount SELECT ... FOR UPDATE，鎖會持有到 Commit / Rollback
func (tx *gormTx) LockAccount(ctx context.Context, username string) (*domain.Account, error) {
	var row sqlAccount
	err := tx.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("username = ?", username).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, translateError(err)
	}
	tx.locked[username] = struct{}{}
	return row.toDomain(), nil
}

func (tx *gormTx) SaveBalance(ctx context.Context, username string, balance int64) error {
	if _, ok := tx.locked[username]; !ok {
		return fmt.Errorf("account %q is not locked in this unit of work", username)
	}
	if balance < 0 {
		return fmt.Errorf("refusing negative balance %d for %q", balance, username)
	}
	err := tx.db.WithContext(ctx).Model(&sqlAccount{}).
		Where("username = ?", username).
		Update("balance", balance).Error
	return translateError(err)
}

func (tx *gormTx) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	for _, username := range tran.GetLockIDs() {
		if _, ok := tx.locked[username]; !ok {
			return fmt.Errorf("account %q is not locked in this unit of work", username)
		}
	}
	return translateError(tx.db.WithContext(ctx).Create(newSQLTransaction(tran)).Error)
}

// translateError 把 MySQL 的鎖等待逾時與死結轉成 domain 錯誤
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout:
			return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		case errDeadlock:
			return fmt.Errorf("%w: %w", domain.ErrLockConflict, err)
		}
	}
	return err
}

var (
	_ usecase.Store = (*Store)(nil)
	_ usecase.Tx    = (*gormTx)(nil)
)
