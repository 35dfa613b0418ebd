package grpc

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

// TokenVerifier 驗證 bearer token 並回傳 username
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// 不需要登入的方法
var publicMethods = map[string]bool{
	MethodRegister: true,
	MethodLogin:    true,
}

// AuthInterceptor 從 metadata "authorization: Bearer <token>" 取得使用者
func AuthInterceptor(verifier TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		token, ok := auth.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid authorization metadata")
		}
		username, err := verifier.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		ctx = auth.WithUsername(ctx, username)
		ctx = logger.WithFields(ctx, logrus.Fields{"username": username})
		return handler(ctx, req)
	}
}

// LoggingInterceptor 記錄每個 RPC 的結果與耗時，並攔截 panic
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		ctx = logger.WithFields(ctx, logrus.Fields{"request_id": uuid.NewString(), "method": info.FullMethod})
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.WithContext(ctx).WithField("panic", r).Errorf("grpc handler panic\n%s", debug.Stack())
				err = status.Error(codes.Internal, "internal error")
			}
			entry := log.WithContext(ctx).WithFields(logrus.Fields{
				"code":     status.Code(err).String(),
				"duration": time.Since(start),
			})
			if err != nil && status.Code(err) == codes.Internal {
				entry.WithError(err).Error("rpc failed")
				return
			}
			entry.Debug("rpc handled")
		}()
		return handler(ctx, req)
	}
}

// toStatus 把 domain 錯誤轉成 gRPC status
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidUsername),
		errors.Is(err, domain.ErrInvalidPassword),
		errors.Is(err, domain.ErrSameAccount):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrTimeout):
		code = codes.DeadlineExceeded
	case errors.Is(err, domain.ErrLockConflict):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
