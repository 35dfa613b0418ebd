package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

// CoreUseCase 是帳本對外的門面
// 只做參數驗證與結果轉換，交易邏輯都在 TransferEngine
type CoreUseCase struct {
	store  Store
	engine *TransferEngine
	log    *logger.Logger
}

func NewCoreUseCase(store Store, engine *TransferEngine, log *logger.Logger) *CoreUseCase {
	return &CoreUseCase{
		store:  store,
		engine: engine,
		log:    log,
	}
}

// Deposit 存款，回傳新餘額
func (c *CoreUseCase) Deposit(ctx context.Context, username string, amount int64) (int64, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return 0, err
	}
	balance, err := c.engine.Deposit(ctx, username, amount)
	if err != nil {
		return 0, c.translate(ctx, "deposit", err)
	}
	return balance, nil
}

// GetBalance 取得帳戶餘額
func (c *CoreUseCase) GetBalance(ctx context.Context, username string) (int64, error) {
	acct, err := c.store.GetAccount(ctx, username)
	if err != nil {
		return 0, c.translate(ctx, "get balance", err)
	}
	return acct.Balance, nil
}

// Transfer 轉帳
//
// 回傳:
//
//	*domain.Transaction: 成功時的交易紀錄
//	bool: false 且 err == nil 代表餘額不足
//	error: NotFound / InvalidAmount / SameAccount / Fault
func (c *CoreUseCase) Transfer(ctx context.Context, sender, receiver string, amount int64) (*domain.Transaction, bool, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, false, err
	}
	if err := domain.ValidateUsername(receiver); err != nil {
		return nil, false, err
	}
	if sender == receiver {
		return nil, false, domain.ErrSameAccount
	}
	tran, ok, err := c.engine.Transfer(ctx, sender, receiver, amount)
	if err != nil {
		return nil, false, c.translate(ctx, "transfer", err)
	}
	return tran, ok, nil
}

// GetTransaction 查詢交易，只有轉出或轉入方可以看
// 先確認存在，再檢查權限
func (c *CoreUseCase) GetTransaction(ctx context.Context, requester string, id uuid.UUID) (*domain.Transaction, error) {
	tran, err := c.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, c.translate(ctx, "get transaction", err)
	}
	if !tran.Involves(requester) {
		return nil, domain.ErrForbidden
	}
	return tran, nil
}

// ListTransactions 列出使用者相關的交易，依建立時間排序
func (c *CoreUseCase) ListTransactions(ctx context.Context, username string) ([]*domain.Transaction, error) {
	trans, err := c.store.ListTransactions(ctx, username)
	if err != nil {
		return nil, c.translate(ctx, "list transactions", err)
	}
	sort.SliceStable(trans, func(i, j int) bool {
		return trans[i].CreatedAt.Before(trans[j].CreatedAt)
	})
	return trans, nil
}

// translate 業務錯誤原樣回傳，其餘記錄後包成 ErrFault
func (c *CoreUseCase) translate(ctx context.Context, op string, err error) error {
	if domain.IsClientError(err) {
		return err
	}
	c.log.WithContext(ctx).WithError(err).Errorf("%s failed", op)
	if errors.Is(err, domain.ErrFault) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrFault, err)
}
