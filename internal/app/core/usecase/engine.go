package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/metrics"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

// DefaultOperationTimeout 單一 unit of work 的上限 (含等鎖時間)
const DefaultOperationTimeout = 5 * time.Second

// TransferEngine 負責所有會改動餘額的操作
// 轉帳是唯一同時鎖兩個帳戶的地方
type TransferEngine struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// EngineOption 設定 TransferEngine
type EngineOption func(*TransferEngine)

// WithOperationTimeout 設定單筆操作逾時，<=0 表示只依呼叫端 ctx
func WithOperationTimeout(d time.Duration) EngineOption {
	return func(e *TransferEngine) {
		e.timeout = d
	}
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) EngineOption {
	return func(e *TransferEngine) {
		e.now = now
	}
}

func NewTransferEngine(store Store, log *logger.Logger, opts ...EngineOption) *TransferEngine {
	e := &TransferEngine{
		store:   store,
		timeout: DefaultOperationTimeout,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer 執行一筆轉帳
//
// 回傳:
//
//	*domain.Transaction: 提交成功的紀錄
//	bool: false 代表餘額不足 (業務結果，不是錯誤)
//	error: 任何故障，此時整筆已回滾
func (e *TransferEngine) Transfer(ctx context.Context, sender, receiver string, amount int64) (*domain.Transaction, bool, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, false, err
	}
	if sender == receiver {
		return nil, false, domain.ErrSameAccount
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	tran := domain.NewTransfer(sender, receiver, amount)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		// 依標準順序上鎖，A->B 與 B->A 的鎖順序一致
		locked := make(map[string]*domain.Account, 2)
		for _, username := range tran.GetLockIDs() {
			acct, err := tx.LockAccount(ctx, username)
			if err != nil {
				return err
			}
			locked[username] = acct
		}

		from, to := locked[sender], locked[receiver]
		if err := from.Withdraw(amount); err != nil {
			return err
		}
		if err := to.Deposit(amount); err != nil {
			return err
		}
		for _, username := range tran.GetLockIDs() {
			if err := tx.SaveBalance(ctx, username, locked[username].Balance); err != nil {
				return err
			}
		}
		tran.CreatedAt = e.now().UTC()
		return tx.AppendTransaction(ctx, tran)
	})

	entry := e.log.WithContext(ctx).WithFields(logrus.Fields{
		"from":   sender,
		"to":     receiver,
		"amount": amount,
	})
	switch {
	case err == nil:
		metrics.RecordTransfer(metrics.OutcomeCommitted, time.Since(start))
		entry.WithField("transaction_id", tran.TransactionID).Debug("transfer committed")
		return tran, true, nil
	case errors.Is(err, domain.ErrInsufficientBalance):
		metrics.RecordTransfer(metrics.OutcomeInsufficient, time.Since(start))
		entry.Debug("transfer rejected: insufficient balance")
		return nil, false, nil
	default:
		err = e.classify(ctx, err)
		metrics.RecordTransfer(outcomeFor(err), time.Since(start))
		entry.WithError(err).Warn("transfer rolled back")
		return nil, false, err
	}
}

// Deposit 對單一帳戶加值，回傳新餘額
// 讀取與寫入都在同一個 unit of work 內完成，不會 lost update
func (e *TransferEngine) Deposit(ctx context.Context, username string, amount int64) (int64, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return 0, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	var balance int64
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.LockAccount(ctx, username)
		if err != nil {
			return err
		}
		if err := acct.Deposit(amount); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, username, acct.Balance); err != nil {
			return err
		}
		balance = acct.Balance
		return nil
	})
	if err != nil {
		err = e.classify(ctx, err)
		metrics.RecordDeposit(outcomeFor(err), time.Since(start))
		return 0, err
	}
	metrics.RecordDeposit(metrics.OutcomeCommitted, time.Since(start))
	return balance, nil
}

func (e *TransferEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// classify 把 context 逾時統一成 domain.ErrTimeout
func (e *TransferEngine) classify(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return metrics.OutcomeTimeout
	case domain.IsClientError(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFault
	}
}
