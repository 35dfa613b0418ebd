package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction 一筆已提交的轉帳紀錄，建立後不可變
// FromUser / ToUser 只是帳戶的識別字，紀錄本身不持有帳戶
type Transaction struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	FromUser      string    `json:"from_user"`
	ToUser        string    `json:"to_user"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTransfer 建立一筆待提交的轉帳紀錄，CreatedAt 由引擎在提交時填入
func NewTransfer(from, to string, amount int64) *Transaction {
	return &Transaction{
		TransactionID: uuid.New(),
		FromUser:      from,
		ToUser:        to,
		Amount:        amount,
	}
}

// Involves 使用者是否為交易的轉出或轉入方
func (t *Transaction) Involves(username string) bool {
	return t.FromUser == username || t.ToUser == username
}

// GetLockIDs 回傳需要鎖定的帳號，順序固定 (字典序) 以避免死鎖
func (t *Transaction) GetLockIDs() []string {
	return LockOrder(t.FromUser, t.ToUser)
}

// LockOrder 把兩個帳號排成標準鎖定順序，與轉帳方向無關
// A->B 與 B->A 會得到相同順序
func LockOrder(a, b string) []string {
	// 預先宣告容量為 2 的 slice，避免多次分配
	ids := make([]string, 0, 2)
	switch {
	case a == b:
		ids = append(ids, a)
	case a < b:
		ids = append(ids, a, b)
	default:
		ids = append(ids, b, a)
	}
	return ids
}
