package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/metrics"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateLimit      = 10000
	DefaultRateLimitIdle  = 5 * time.Minute
)

// Config HTTP 伺服器設定
type Config struct {
	Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"HTTP_RATE_LIMIT"` // 每個使用者/IP 每秒請求數
	RateBurst      int           `yaml:"rate_burst" env:"HTTP_RATE_BURST"`
	// RateLimitIdle 限流 key 閒置多久後移除
	RateLimitIdle time.Duration `yaml:"rate_limit_idle" env:"HTTP_RATE_LIMIT_IDLE"`
}

// NewRateLimiter 依設定建立限流器
func (c Config) NewRateLimiter() *RateLimiter {
	rateLimit := c.RateLimit
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}
	return NewRateLimiter(rateLimit, c.RateBurst)
}

// StartRateLimitCleanup 在背景定期清掉閒置的限流 key
func (c Config) StartRateLimitCleanup(rl *RateLimiter) (stop func()) {
	idle := c.RateLimitIdle
	if idle <= 0 {
		idle = DefaultRateLimitIdle
	}
	return rl.StartCleanup(idle/2, idle)
}

// Options 組裝 router 需要的相依
type Options struct {
	Config      Config
	Core        *usecase.CoreUseCase
	Users       *usecase.UserUseCase
	Tokens      TokenVerifier
	Idempotency IdempotencyStore // 可為 nil，代表不支援 Idempotency-Key
	Limiter     *RateLimiter     // 可為 nil，由 Config 建立且不做清理
	Log         *logger.Logger
}

// NewRouter 建立所有路由
//
// 公開路由: /users/signup, /users/login, /healthz, /metrics
// 其餘路由需要 bearer token
func NewRouter(opts Options) *mux.Router {
	h := NewHandler(opts.Core, opts.Users, opts.Log)
	limiter := opts.Limiter
	if limiter == nil {
		limiter = opts.Config.NewRateLimiter()
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.Use(requestLogger(opts.Log), recoverer(opts.Log), metrics.InstrumentHandler)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	public := r.PathPrefix("/users").Subrouter()
	public.Use(limiter.Handler)
	public.HandleFunc("/signup", h.signup).Methods(http.MethodPost)
	public.HandleFunc("/login", h.login).Methods(http.MethodPost)

	private := r.NewRoute().Subrouter()
	private.Use(authenticate(opts.Tokens), limiter.Handler)
	private.HandleFunc("/users/whoami", h.whoami).Methods(http.MethodGet)
	private.HandleFunc("/balance", h.getBalance).Methods(http.MethodGet)
	private.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)
	private.HandleFunc("/transactions/{id}", h.getTransaction).Methods(http.MethodGet)

	mutating := private.NewRoute().Subrouter()
	mutating.Use(idempotent(opts.Idempotency, opts.Log))
	mutating.HandleFunc("/balance/deposit", h.deposit).Methods(http.MethodPost)
	mutating.HandleFunc("/transactions", h.transfer).Methods(http.MethodPost)

	return r
}

// NewServer 以 http.TimeoutHandler 包住 router，逾時的請求會取消 context
func NewServer(opts Options) *http.Server {
	timeout := opts.Config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           http.TimeoutHandler(NewRouter(opts), timeout, `{"error":"request timeout"}`),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
