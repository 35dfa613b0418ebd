// test_rpc_client 對 gRPC LedgerService 做壓力測試
// 建立兩個帳戶後同時發送雙向轉帳，結束時驗證總額守恆並輸出 TPS
package main

import (
	"context"
	"flag"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/in/grpc"
	grpcpool "github.com/JoeShih716/go-transfer-ledger/pkg/grpc"
)

type tokenKey struct{}

func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC server address")
	totalCount := flag.Int("count", 10000, "number of transfers")
	concurrency := flag.Int("concurrency", 100, "concurrent in-flight requests")
	deposit := flag.Int64("deposit", 1000000, "initial deposit per account")
	flag.Parse()

	pool := grpcpool.NewPool(
		grpcpool.WithInterceptor(grpcpool.BearerTokenInterceptor(tokenFrom)),
		grpcpool.WithDefaultCallOptions(grpc.CallContentSubtype(grpc_adapter.CodecName)),
	)
	defer pool.Close()

	conn, err := pool.GetConnection(*addr)
	if err != nil {
		logrus.Fatalf("did not connect: %v", err)
	}
	c := grpc_adapter.NewLedgerServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// 1. 建立兩個隨機帳戶並儲值
	users := [2]string{newUsername(), newUsername()}
	var sessions [2]context.Context
	for i, username := range users {
		const password = "loadtest-pw"
		if _, err := c.Register(ctx, &grpc_adapter.RegisterRequest{Username: username, Password: password}); err != nil {
			logrus.Fatalf("register %s: %v", username, err)
		}
		resp, err := c.Login(ctx, &grpc_adapter.LoginRequest{Username: username, Password: password})
		if err != nil {
			logrus.Fatalf("login %s: %v", username, err)
		}
		sessions[i] = withToken(ctx, resp.Token)
		if _, err := c.Deposit(sessions[i], &grpc_adapter.DepositRequest{Amount: *deposit}); err != nil {
			logrus.Fatalf("deposit %s: %v", username, err)
		}
	}
	logrus.WithField("users", users).Info("Accounts ready")

	// 2. 雙向轉帳
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
		failed    atomic.Int64
	)
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			from, to := idx%2, (idx+1)%2
			resp, err := c.Transfer(sessions[from], &grpc_adapter.TransferRequest{ToUser: users[to], Amount: 1})
			switch {
			case err != nil:
				failed.Add(1)
				if idx%1000 == 0 {
					logrus.WithError(err).Warnf("Transfer %d failed", idx)
				}
			case !resp.Success:
				rejected.Add(1)
			default:
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	// 3. 驗證總額
	var total int64
	for i := range users {
		resp, err := c.GetBalance(sessions[i], &grpc_adapter.GetBalanceRequest{})
		if err != nil {
			logrus.Fatalf("get balance %s: %v", users[i], err)
		}
		total += resp.Balance
	}

	log := logrus.WithFields(logrus.Fields{
		"requests":  *totalCount,
		"succeeded": succeeded.Load(),
		"rejected":  rejected.Load(),
		"failed":    failed.Load(),
		"elapsed":   elapsed,
		"tps":       float64(*totalCount) / elapsed.Seconds(),
	})
	if total != 2**deposit {
		log.Errorf("Balance mismatch: got %d, want %d", total, 2**deposit)
		return
	}
	log.Info("Load test finished, total balance conserved")
}

// newUsername 產生符合 4~16 字元規則的帳號
func newUsername() string {
	return "lt" + uuid.NewString()[:8]
}
