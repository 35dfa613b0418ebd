package domain

import (
	"math"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxAmount 單筆存款/轉帳上限 (沿用 32-bit 金額範圍)
	MaxAmount int64 = math.MaxInt32

	MinUsernameLen = 4
	MaxUsernameLen = 16
	MinPasswordLen = 8
	MaxPasswordLen = 100
)

// Account 帳戶，以 username 為主鍵
type Account struct {
	Username     string    `json:"username"`
	Balance      int64     `json:"balance"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewAccount(username, passwordHash string, now time.Time) *Account {
	return &Account{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
}

// Deposit 存款
func (a *Account) Deposit(amount int64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if a.Balance > math.MaxInt64-amount {
		return ErrInvalidAmount
	}
	a.Balance += amount
	return nil
}

// Withdraw 提款，餘額不足時不做任何修改
func (a *Account) Withdraw(amount int64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if a.Balance < amount {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	return nil
}

// ValidateAmount 金額必須介於 1 與 MaxAmount 之間
func ValidateAmount(amount int64) error {
	if amount <= 0 || amount > MaxAmount {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateUsername 長度 4~16 且不含空白或控制字元
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLen || n > MaxUsernameLen {
		return ErrInvalidUsername
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}

// ValidatePassword 長度 8~100
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLen || n > MaxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

// BalanceSummary 全帳本餘額彙總，給稽核用
type BalanceSummary struct {
	Accounts int64
	Total    int64
	Negative int64
}
