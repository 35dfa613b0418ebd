package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

// Store 是帳務儲存層的介面 (memory / mysql / postgres 三種實作)
type Store interface {
	// RunInTx 開啟一個 unit of work
	// fn 回傳 nil 時提交，回傳錯誤 (或 ctx 已取消) 時整筆回滾並回傳該錯誤
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// CreateAccount 建立餘額為 0 的帳戶
	CreateAccount(ctx context.Context, account *domain.Account) error
	// GetAccount 讀取已提交的帳戶狀態
	GetAccount(ctx context.Context, username string) (*domain.Account, error)
	// GetTransaction 依交易 ID 查詢
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// ListTransactions 列出使用者為轉出或轉入方的所有交易
	ListTransactions(ctx context.Context, username string) ([]*domain.Transaction, error)
	// BalanceSummary 全帳本餘額彙總
	BalanceSummary(ctx context.Context) (*domain.BalanceSummary, error)

	Close() error
}

// Tx 是 unit of work 內可以做的事，鎖會持有到 RunInTx 結束
type Tx interface {
	// LockAccount 取得帳戶的排他鎖並回傳鎖內讀到的狀態
	// 多帳戶時呼叫端必須依 domain.LockOrder 的順序呼叫
	LockAccount(ctx context.Context, username string) (*domain.Account, error)
	// SaveBalance 寫入已鎖定帳戶的新餘額
	SaveBalance(ctx context.Context, username string, balance int64) error
	// AppendTransaction 追加交易紀錄，只能在 unit of work 內呼叫
	AppendTransaction(ctx context.Context, tran *domain.Transaction) error
}
