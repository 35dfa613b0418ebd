package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "ledger.v1.LedgerService"

// 完整方法名稱，interceptor 以此判斷是否需要認證
const (
	MethodRegister         = "/" + serviceName + "/Register"
	MethodLogin            = "/" + serviceName + "/Login"
	MethodDeposit          = "/" + serviceName + "/Deposit"
	MethodGetBalance       = "/" + serviceName + "/GetBalance"
	MethodTransfer         = "/" + serviceName + "/Transfer"
	MethodGetTransaction   = "/" + serviceName + "/GetTransaction"
	MethodListTransactions = "/" + serviceName + "/ListTransactions"
)

// LedgerServiceServer 伺服端要實作的方法
type LedgerServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Deposit(context.Context, *DepositRequest) (*DepositResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	GetTransaction(context.Context, *GetTransactionRequest) (*GetTransactionResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
}

// unaryHandler 把 decode + interceptor 的樣板收在一起
func unaryHandler[Req any, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LedgerServiceDesc 手寫的 service 描述，訊息以 JSON codec 編碼
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, LedgerServiceServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, LedgerServiceServer.Login)},
		{MethodName: "Deposit", Handler: unaryHandler(MethodDeposit, LedgerServiceServer.Deposit)},
		{MethodName: "GetBalance", Handler: unaryHandler(MethodGetBalance, LedgerServiceServer.GetBalance)},
		{MethodName: "Transfer", Handler: unaryHandler(MethodTransfer, LedgerServiceServer.Transfer)},
		{MethodName: "GetTransaction", Handler: unaryHandler(MethodGetTransaction, LedgerServiceServer.GetTransaction)},
		{MethodName: "ListTransactions", Handler: unaryHandler(MethodListTransactions, LedgerServiceServer.ListTransactions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerServiceClient 用戶端
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *LedgerServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *LedgerServiceClient) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*DepositResponse, error) {
	return invoke[DepositResponse](ctx, c.cc, MethodDeposit, in, opts)
}

func (c *LedgerServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error) {
	return invoke[GetBalanceResponse](ctx, c.cc, MethodGetBalance, in, opts)
}

func (c *LedgerServiceClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	return invoke[TransferResponse](ctx, c.cc, MethodTransfer, in, opts)
}

func (c *LedgerServiceClient) GetTransaction(ctx context.Context, in *GetTransactionRequest, opts ...grpc.CallOption) (*GetTransactionResponse, error) {
	return invoke[GetTransactionResponse](ctx, c.cc, MethodGetTransaction, in, opts)
}

func (c *LedgerServiceClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, c.cc, MethodListTransactions, in, opts)
}
