package memory

import (
	"context"
	"fmt"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
)

// memTx 一個進行中的 unit of work
// 寫入先暫存在 staged / appended，提交時才一次套用
type memTx struct {
	store    *Store
	held     map[string]*account
	order    []*account // 取鎖順序，釋放時反向
	staged   map[string]int64
	appended []*domain.Transaction
}

// LockAccount 取得帳戶排他鎖；等鎖時 ctx 取消或逾時會直接放棄
func (tx *memTx) LockAccount(ctx context.Context, username string) (*domain.Account, error) {
	if acct, ok := tx.held[username]; ok {
		snap := acct.snapshot()
		if balance, ok := tx.staged[username]; ok {
			snap.Balance = balance
		}
		return snap, nil
	}

	tx.store.mu.RLock()
	acct, ok := tx.store.accounts[username]
	tx.store.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	select {
	case acct.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tx.held[username] = acct
	tx.order = append(tx.order, acct)

	// 持有 sem 時 balance 只可能被自己改，不需要 mu
	return acct.snapshot(), nil
}

// SaveBalance 暫存新餘額，必須先 LockAccount
func (tx *memTx) SaveBalance(ctx context.Context, username string, balance int64) error {
	if _, ok := tx.held[username]; !ok {
		return fmt.Errorf("account %q is not locked in this unit of work", username)
	}
	if balance < 0 {
		return fmt.Errorf("refusing negative balance %d for %q", balance, username)
	}
	tx.staged[username] = balance
	return nil
}

// AppendTransaction 暫存交易紀錄，雙方帳戶都必須已鎖定
func (tx *memTx) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	for _, username := range tran.GetLockIDs() {
		if _, ok := tx.held[username]; !ok {
			return fmt.Errorf("account %q is not locked in this unit of work", username)
		}
	}
	tx.appended = append(tx.appended, tran)
	return nil
}

// commit 先寫 WAL 再套用；WAL 失敗則什麼都不改
func (tx *memTx) commit() error {
	if len(tx.staged) == 0 && len(tx.appended) == 0 {
		return nil
	}
	s := tx.store

	if s.wal != nil {
		rec := &walRecord{Balances: tx.staged, Transactions: tx.appended}
		if err := s.wal.Write(rec); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for username, balance := range tx.staged {
		tx.held[username].balance = balance
	}
	for _, tran := range tx.appended {
		cp := *tran
		s.indexTransaction(&cp)
	}
	return nil
}

func (tx *memTx) release() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		<-tx.order[i].sem
	}
	tx.order = nil
}

var _ usecase.Tx = (*memTx)(nil)
