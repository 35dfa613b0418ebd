package grpc

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

func newTestClient(t *testing.T) *LedgerServiceClient {
	t.Helper()
	log := logger.NewNop()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(auth.Config{JWTSecret: "test-secret"})
	require.NoError(t, err)

	engine := usecase.NewTransferEngine(store, log)
	core := usecase.NewCoreUseCase(store, engine, log)
	users := usecase.NewUserUseCase(store, auth.NewBcryptHasher(bcrypt.MinCost), tokens, log)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(NewGrpcServer(core, users), log, tokens)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewLedgerServiceClient(conn)
}

// signup 註冊並登入，回傳帶 token 的 context
func signup(t *testing.T, c *LedgerServiceClient, username string) context.Context {
	t.Helper()
	ctx := context.Background()
	_, err := c.Register(ctx, &RegisterRequest{Username: username, Password: "password1"})
	require.NoError(t, err)
	resp, err := c.Login(ctx, &LoginRequest{Username: username, Password: "password1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+resp.Token)
}

func TestTransferOverGRPC(t *testing.T) {
	c := newTestClient(t)
	alice := signup(t, c, "alice")
	bob := signup(t, c, "bob1")

	dep, err := c.Deposit(alice, &DepositRequest{Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), dep.Balance)

	resp, err := c.Transfer(alice, &TransferRequest{ToUser: "bob1", Amount: 30})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, int64(70), resp.CurrentBalance)
	require.NotNil(t, resp.Transaction)
	assert.NotNil(t, resp.Transaction.CreatedAt)

	bal, err := c.GetBalance(bob, &GetBalanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal.Balance)

	got, err := c.GetTransaction(bob, &GetTransactionRequest{TransactionId: resp.Transaction.TransactionId})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Transaction.FromUser)
	assert.Equal(t, resp.Transaction.CreatedAt.AsTime(), got.Transaction.CreatedAt.AsTime())

	list, err := c.ListTransactions(alice, &ListTransactionsRequest{})
	require.NoError(t, err)
	assert.Len(t, list.Transactions, 1)
}

func TestTransferInsufficientIsSoftFailure(t *testing.T) {
	c := newTestClient(t)
	alice := signup(t, c, "alice")
	signup(t, c, "bob1")

	resp, err := c.Transfer(alice, &TransferRequest{ToUser: "bob1", Amount: 1000})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "insufficient balance", resp.Message)
	assert.Nil(t, resp.Transaction)
	assert.Equal(t, int64(0), resp.CurrentBalance)
}

func TestErrorCodes(t *testing.T) {
	c := newTestClient(t)
	alice := signup(t, c, "alice")
	mallory := signup(t, c, "mallory")
	signup(t, c, "bob1")
	_, err := c.Deposit(alice, &DepositRequest{Amount: 10})
	require.NoError(t, err)
	resp, err := c.Transfer(alice, &TransferRequest{ToUser: "bob1", Amount: 5})
	require.NoError(t, err)

	_, err = c.GetBalance(context.Background(), &GetBalanceRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	_, err = c.GetBalance(bad, &GetBalanceRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = c.Register(context.Background(), &RegisterRequest{Username: "alice", Password: "password1"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = c.Login(context.Background(), &LoginRequest{Username: "alice", Password: "wrong-pass"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = c.Transfer(alice, &TransferRequest{ToUser: "alice", Amount: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Transfer(alice, &TransferRequest{ToUser: "nobody", Amount: 1})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Deposit(alice, &DepositRequest{Amount: -5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.GetTransaction(mallory, &GetTransactionRequest{TransactionId: resp.Transaction.TransactionId})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = c.GetTransaction(alice, &GetTransactionRequest{TransactionId: "not-a-uuid"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestConcurrentOppositeTransfersOverGRPC(t *testing.T) {
	c := newTestClient(t)
	alice := signup(t, c, "alice")
	bob := signup(t, c, "bob1")
	_, err := c.Deposit(alice, &DepositRequest{Amount: 500})
	require.NoError(t, err)
	_, err = c.Deposit(bob, &DepositRequest{Amount: 500})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := c.Transfer(alice, &TransferRequest{ToUser: "bob1", Amount: 7})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := c.Transfer(bob, &TransferRequest{ToUser: "alice", Amount: 7})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := c.GetBalance(alice, &GetBalanceRequest{})
	require.NoError(t, err)
	b, err := c.GetBalance(bob, &GetBalanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.Balance+b.Balance)
}

func TestToStatusHidesInternalErrors(t *testing.T) {
	err := toStatus(assert.AnError)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, "internal error", status.Convert(err).Message())
}
