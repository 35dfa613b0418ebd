package domain

import "errors"

var (
	// ErrInvalidAmount 金額必須為正數且不超過 MaxAmount
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidUsername 使用者名稱格式錯誤
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidPassword 密碼長度不符
	ErrInvalidPassword = errors.New("invalid password")

	// ErrSameAccount 轉出與轉入帳戶相同
	ErrSameAccount = errors.New("sender and receiver must differ")

	// ErrInsufficientBalance 餘額不足
	// 引擎會把它轉成 ok=false，不會往外拋
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrTransactionNotFound 找不到交易
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrForbidden 請求者不是交易的任一方
	ErrForbidden = errors.New("requester is not a party to this transaction")

	// ErrInvalidCredentials 帳號或密碼錯誤
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthenticated 沒有可信任的使用者身分
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTimeout 等待鎖或整個 unit of work 逾時
	ErrTimeout = errors.New("operation timed out")

	// ErrLockConflict 儲存層偵測到死結或序列化衝突，整筆已回滾
	ErrLockConflict = errors.New("lock conflict")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")

	// ErrFault 內部錯誤 (儲存層不可用、提交失敗...)
	ErrFault = errors.New("internal failure")
)

// IsClientError 判斷錯誤是否為呼叫端可見的業務錯誤 (非 Fault)
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountAlreadyExists),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthenticated):
		return true
	}
	return false
}
