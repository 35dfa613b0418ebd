package mysql

import (
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	Username     string `gorm:"primaryKey;size:16"`
	PasswordHash string `gorm:"size:100;not null"`
	Balance      int64  `gorm:"not null;default:0"`
	CreatedAt    int64  `gorm:"autoCreateTime:milli"`
	UpdatedAt    int64  `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		Username:     a.Username,
		Balance:      a.Balance,
		PasswordHash: a.PasswordHash,
		CreatedAt:    time.UnixMilli(a.CreatedAt).UTC(),
	}
}

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RefID     []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.TransactionID
	FromUser  string `gorm:"size:16;index"`
	ToUser    string `gorm:"size:16;index"`
	Amount    int64  `gorm:"not null"`
	CreatedAt int64  `gorm:"index"` // UnixNano，由引擎在提交前填入
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

func newSQLTransaction(tran *domain.Transaction) *sqlTransaction {
	return &sqlTransaction{
		RefID:     tran.TransactionID[:],
		FromUser:  tran.FromUser,
		ToUser:    tran.ToUser,
		Amount:    tran.Amount,
		CreatedAt: tran.CreatedAt.UnixNano(),
	}
}

func (t *sqlTransaction) toDomain() (*domain.Transaction, error) {
	id, err := uuid.FromBytes(t.RefID)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		TransactionID: id,
		FromUser:      t.FromUser,
		ToUser:        t.ToUser,
		Amount:        t.Amount,
		CreatedAt:     time.Unix(0, t.CreatedAt).UTC(),
	}, nil
}
