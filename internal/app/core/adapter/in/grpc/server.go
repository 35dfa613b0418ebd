package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

type GrpcServer struct {
	core  *usecase.CoreUseCase
	users *usecase.UserUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase, users *usecase.UserUseCase) *GrpcServer {
	return &GrpcServer{
		core:  core,
		users: users,
	}
}

func (s *GrpcServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if err := s.users.Register(ctx, req.Username, req.Password); err != nil {
		return nil, toStatus(err)
	}
	return &RegisterResponse{}, nil
}

func (s *GrpcServer) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	token, err := s.users.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LoginResponse{Token: token}, nil
}

func (s *GrpcServer) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	username, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.core.Deposit(ctx, username, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepositResponse{Balance: balance}, nil
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	username, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.core.GetBalance(ctx, username)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetBalanceResponse{Balance: balance}, nil
}

// Transfer 餘額不足屬於業務結果，回傳 Success=false (Soft Failure)
func (s *GrpcServer) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	username, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	tran, ok, err := s.core.Transfer(ctx, username, req.ToUser, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	// 最新餘額 (Best Effort)
	balance, _ := s.core.GetBalance(ctx, username)
	if !ok {
		return &TransferResponse{
			Success:        false,
			Message:        "insufficient balance",
			CurrentBalance: balance,
		}, nil
	}
	return &TransferResponse{
		Success:        true,
		Transaction:    toTransaction(tran),
		CurrentBalance: balance,
	}, nil
}

func (s *GrpcServer) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*GetTransactionResponse, error) {
	username, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(req.TransactionId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid transaction_id: "+err.Error())
	}
	tran, err := s.core.GetTransaction(ctx, username, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetTransactionResponse{Transaction: toTransaction(tran)}, nil
}

func (s *GrpcServer) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	username, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	trans, err := s.core.ListTransactions(ctx, username)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]*Transaction, 0, len(trans))
	for _, tran := range trans {
		out = append(out, toTransaction(tran))
	}
	return &ListTransactionsResponse{Transactions: out}, nil
}

// requester 由 AuthInterceptor 放入 context 的使用者
func requester(ctx context.Context) (string, error) {
	username, ok := auth.UsernameFrom(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing credentials")
	}
	return username, nil
}

var _ LedgerServiceServer = (*GrpcServer)(nil)

// NewServer 建立已註冊 LedgerService 與 interceptor 的 *grpc.Server
func NewServer(impl *GrpcServer, log *logger.Logger, verifier TokenVerifier, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		LoggingInterceptor(log),
		AuthInterceptor(verifier),
	))
	s := grpc.NewServer(opts...)
	RegisterLedgerServiceServer(s, impl)
	return s
}
