package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

// PasswordHasher 密碼雜湊
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer 登入成功後簽發 token
type TokenIssuer interface {
	Issue(username string) (string, error)
}

// UserUseCase 註冊與登入
type UserUseCase struct {
	store  Store
	hasher PasswordHasher
	issuer TokenIssuer
	log    *logger.Logger
}

func NewUserUseCase(store Store, hasher PasswordHasher, issuer TokenIssuer, log *logger.Logger) *UserUseCase {
	return &UserUseCase{
		store:  store,
		hasher: hasher,
		issuer: issuer,
		log:    log,
	}
}

// Register 建立新使用者，初始餘額 0
func (u *UserUseCase) Register(ctx context.Context, username, password string) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := u.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := u.store.CreateAccount(ctx, domain.NewAccount(username, hash, time.Now().UTC())); err != nil {
		if !errors.Is(err, domain.ErrAccountAlreadyExists) {
			u.log.WithContext(ctx).WithError(err).Error("create account failed")
		}
		return err
	}
	u.log.WithContext(ctx).WithField("username", username).Info("account registered")
	return nil
}

// Login 驗證密碼並簽發 token
// 帳號不存在與密碼錯誤回傳相同錯誤
func (u *UserUseCase) Login(ctx context.Context, username, password string) (string, error) {
	acct, err := u.store.GetAccount(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", err
	}
	if err := u.hasher.Compare(acct.PasswordHash, password); err != nil {
		return "", domain.ErrInvalidCredentials
	}
	return u.issuer.Issue(username)
}
