package auth

import (
	"context"
	"strings"
)

type ctxKey struct{}

// WithUsername 把已驗證的使用者放進 context
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, username)
}

// UsernameFrom 取出已驗證的使用者，未驗證時回傳 false
func UsernameFrom(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ctxKey{}).(string)
	return username, ok && username != ""
}

// BearerToken 解析 "Bearer <token>"
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
