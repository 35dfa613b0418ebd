package grpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Pool 管理通往多個目標的 gRPC 客戶端連線
// 執行緒安全，每個目標地址只維護一個連線實例
type Pool struct {
	conns        sync.Map // map[string]*grpc.ClientConn
	mu           sync.Mutex
	interceptors []grpc.UnaryClientInterceptor
	callOpts     []grpc.CallOption
}

// PoolOption 定義了 Pool 的配置選項函數
type PoolOption func(*Pool)

// WithInterceptor 追加全局的 UnaryClientInterceptor (依加入順序串接)
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.interceptors = append(p.interceptors, interceptor)
	}
}

// WithDefaultCallOptions 每個 RPC 都帶上的 CallOption，例如 grpc.CallContentSubtype("json")
func WithDefaultCallOptions(opts ...grpc.CallOption) PoolOption {
	return func(p *Pool) {
		p.callOpts = append(p.callOpts, opts...)
	}
}

// NewPool 建立並回傳一個新的 gRPC 連線池
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection 獲取現有的連線，或為指定目標建立新連線
//
// 參數:
//
//	target: string - 目標伺服器地址 (e.g., "localhost:50051")
//	opts: ...grpc.DialOption - 可選的額外 gRPC 連線選項
//
// 回傳值:
//
//	*grpc.ClientConn: gRPC 客戶端連線物件
//	error: 若建立連線失敗則回傳錯誤
func (p *Pool) GetConnection(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if conn, ok := p.load(target); ok {
		return conn, nil
	}

	// Double-check locking，避免並發時重複建立
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.load(target); ok {
		return conn, nil
	}

	defaultOpts := []grpc.DialOption{
		// 內部服務通訊，預設不加密
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second, // 若無活動，每 10 秒發送一次 Ping
			Timeout:             time.Second,      // 等待 Ping 回應的超時時間為 1 秒
			PermitWithoutStream: true,
		}),
	}
	if len(p.interceptors) > 0 {
		defaultOpts = append(defaultOpts, grpc.WithChainUnaryInterceptor(p.interceptors...))
	}
	if len(p.callOpts) > 0 {
		defaultOpts = append(defaultOpts, grpc.WithDefaultCallOptions(p.callOpts...))
	}

	// grpc.NewClient 是 lazy connection，第一次呼叫才真的連線
	conn, err := grpc.NewClient(target, append(defaultOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for target %s: %w", target, err)
	}
	p.conns.Store(target, conn)
	return conn, nil
}

// load 取出仍可用的連線，已 Shutdown 的順便移除
func (p *Pool) load(target string) (*grpc.ClientConn, bool) {
	v, ok := p.conns.Load(target)
	if !ok {
		return nil, false
	}
	conn := v.(*grpc.ClientConn)
	if conn.GetState() == connectivity.Shutdown {
		p.conns.Delete(target)
		return nil, false
	}
	return conn, true
}

// Close 關閉連線池中的所有連線
func (p *Pool) Close() error {
	var firstErr error
	p.conns.Range(func(key, value any) bool {
		conn := value.(*grpc.ClientConn)
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conns.Delete(key)
		return true
	})
	return firstErr
}

// BearerTokenInterceptor 若 ctx 沒有 authorization metadata，以 tokenFn 的結果補上
// tokenFn 回傳空字串時不附加
func BearerTokenInterceptor(tokenFn func(ctx context.Context) string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		if len(md.Get("authorization")) == 0 {
			if token := tokenFn(ctx); token != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
			}
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
