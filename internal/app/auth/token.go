package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

// DefaultTokenTTL 登入 token 的預設有效時間
const DefaultTokenTTL = time.Hour

// Config 認證相關設定
type Config struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"JWT_TTL"`
	Issuer     string        `yaml:"issuer" env:"JWT_ISSUER"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
}

// TokenManager 簽發與驗證 HS256 JWT，sub 即為 username
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenManager(cfg Config) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenManager{
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// Issue 簽發 token
func (m *TokenManager) Issue(username string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify 驗證 token 並回傳 username
// 任何驗證失敗都包成 domain.ErrUnauthenticated
func (m *TokenManager) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", domain.ErrUnauthenticated
	}
	return claims.Subject, nil
}
