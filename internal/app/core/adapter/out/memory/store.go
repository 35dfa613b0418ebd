package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/wal"
)

// account 記憶體中的帳戶列
//
// 結構:
//
//	sem: 容量為 1 的 channel，當作可被 ctx 中斷的排他鎖
//	balance: 已提交的餘額，只在持有 sem 且持有 Store.mu 寫鎖時修改
type account struct {
	sem          chan struct{}
	username     string
	passwordHash string
	createdAt    time.Time
	balance      int64
}

func (a *account) snapshot() *domain.Account {
	return &domain.Account{
		Username:     a.username,
		Balance:      a.balance,
		PasswordHash: a.passwordHash,
		CreatedAt:    a.createdAt,
	}
}

// Store 是一個以帳戶為單位上鎖的記憶體帳本
//
// 結構:
//
//	mu: 保護 map 本身，以及提交時讓餘額與交易紀錄一次對外可見
//	accounts: 帳戶資料 Map
//	transactions: 交易紀錄，依 ID 與使用者建索引
//	wal: Write-Ahead Log 實例 (可為 nil，代表不持久化)
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]*account
	transactions map[uuid.UUID]*domain.Transaction
	byUser       map[string][]*domain.Transaction
	wal          *wal.WAL
}

// walAccount 註冊紀錄，domain.Account 不會序列化密碼雜湊所以另外定義
type walAccount struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// walRecord 一筆 WAL 紀錄：註冊，或一次提交後的絕對餘額與新增交易
type walRecord struct {
	Account      *walAccount           `json:"account,omitempty"`
	Balances     map[string]int64      `json:"balances,omitempty"`
	Transactions []*domain.Transaction `json:"transactions,omitempty"`
}

// NewStore 建立記憶體帳本
//
// 參數:
//
//	w: Write-Ahead Log 實例，nil 表示純記憶體
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(w *wal.WAL) (*Store, error) {
	s := &Store{
		accounts:     make(map[string]*account),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byUser:       make(map[string][]*domain.Transaction),
		wal:          w,
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，此時還沒有其他 goroutine
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		return s.applyRecord(&rec)
	})
}

func (s *Store) applyRecord(rec *walRecord) error {
	if rec.Account != nil {
		s.accounts[rec.Account.Username] = newAccount(rec.Account.Username, rec.Account.PasswordHash, rec.Account.CreatedAt)
	}
	for username, balance := range rec.Balances {
		acct, ok := s.accounts[username]
		if !ok {
			return fmt.Errorf("wal references unknown account %q: %w", username, domain.ErrAccountNotFound)
		}
		acct.balance = balance
	}
	for _, tran := range rec.Transactions {
		s.indexTransaction(tran)
	}
	return nil
}

func newAccount(username, passwordHash string, createdAt time.Time) *account {
	return &account{
		sem:          make(chan struct{}, 1),
		username:     username,
		passwordHash: passwordHash,
		createdAt:    createdAt,
	}
}

// indexTransaction 呼叫端需持有 mu 寫鎖
func (s *Store) indexTransaction(tran *domain.Transaction) {
	s.transactions[tran.TransactionID] = tran
	s.byUser[tran.FromUser] = append(s.byUser[tran.FromUser], tran)
	s.byUser[tran.ToUser] = append(s.byUser[tran.ToUser], tran)
}

// CreateAccount 建立帳戶 (餘額 0)
func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.Username]; ok {
		return domain.ErrAccountAlreadyExists
	}
	if s.wal != nil {
		rec := &walRecord{Account: &walAccount{
			Username:     acct.Username,
			PasswordHash: acct.PasswordHash,
			CreatedAt:    acct.CreatedAt,
		}}
		if err := s.wal.Write(rec); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}
	s.accounts[acct.Username] = newAccount(acct.Username, acct.PasswordHash, acct.CreatedAt)
	return nil
}

// GetAccount 取得帳戶已提交的狀態
func (s *Store) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[username]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acct.snapshot(), nil
}

// GetTransaction 依 ID 查詢交易
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tran, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := *tran
	return &cp, nil
}

// ListTransactions 列出使用者相關交易 (依提交順序)
func (s *Store) ListTransactions(ctx context.Context, username string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byUser[username]
	out := make([]*domain.Transaction, 0, len(list))
	for _, tran := range list {
		cp := *tran
		out = append(out, &cp)
	}
	return out, nil
}

// BalanceSummary 在讀鎖內彙總，看到的一定是完整提交後的狀態
func (s *Store) BalanceSummary(ctx context.Context) (*domain.BalanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := &domain.BalanceSummary{}
	for _, acct := range s.accounts {
		summary.Accounts++
		summary.Total += acct.balance
		if acct.balance < 0 {
			summary.Negative++
		}
	}
	return summary, nil
}

// RunInTx 執行一個 unit of work
// fn 成功且 ctx 仍有效才提交；任何情況下離開時都會釋放鎖
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:  s,
		held:   make(map[string]*account, 2),
		staged: make(map[string]int64, 2),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// Close 關閉 WAL
func (s *Store) Close() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

var _ usecase.Store = (*Store)(nil)
