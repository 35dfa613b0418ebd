package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerIdempotencyHit = "X-Idempotency-Hit"
)

// TokenVerifier 驗證 bearer token 並回傳 username
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// IdempotencyStore 保存 Idempotency-Key 對應的回應
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key string) (*domain.IdempotencyRecord, bool, error)
	Complete(ctx context.Context, scope, key string, rec *domain.IdempotencyRecord) error
	Abort(ctx context.Context, scope, key string) error
}

// recorder 記下狀態碼，必要時也留一份 body
type recorder struct {
	http.ResponseWriter
	status  int
	capture bool
	body    bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.capture {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

// requestLogger 產生 request id 並記錄每個請求
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(headerRequestID, requestID)
			ctx := logger.WithFields(r.Context(), logrus.Fields{"request_id": requestID})

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			entry := log.WithContext(ctx).WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request handled")
		})
	}
}

// recoverer 攔截 panic 回 500
func recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.WithContext(r.Context()).WithField("panic", v).Errorf("http handler panic\n%s", debug.Stack())
					writeMessage(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate 驗證 Authorization: Bearer <token>
func authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			username, err := verifier.Verify(token)
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := auth.WithUsername(r.Context(), username)
			ctx = logger.WithFields(ctx, logrus.Fields{"username": username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter 以使用者 (已登入) 或來源 IP 為單位限流
// 閒置超過 idle 的 key 會被 Cleanup 移除
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Cleanup 移除閒置超過 idle 的 key，回傳移除數量
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	removed := 0
	for key, v := range rl.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len 目前追蹤中的 key 數量
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// StartCleanup 每 interval 執行一次 Cleanup(idle)，回傳的 stop 會等背景 goroutine 結束
func (rl *RateLimiter) StartCleanup(interval, idle time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-ticker.C:
				rl.Cleanup(idle)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
			<-exited
		})
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := auth.UsernameFrom(r.Context())
		if !ok {
			key = clientIP(r)
		}
		if !rl.limiter(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// idempotent 相同使用者對相同端點重送相同 Idempotency-Key 時回放第一次的回應
// 5xx 不保存，讓呼叫端可以重試
func idempotent(store IdempotencyStore, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			user, _ := auth.UsernameFrom(ctx)
			// 同一個 key 在不同端點各自獨立
			scope := user + ":" + r.Method + " " + r.URL.Path

			rec, reserved, err := store.Begin(ctx, scope, key)
			if err != nil {
				log.WithContext(ctx).WithError(err).Error("idempotency store unavailable")
				writeMessage(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}
			if !reserved {
				if rec.Pending {
					writeError(w, domain.ErrRequestInFlight)
					return
				}
				w.Header().Set(headerIdempotencyHit, "true")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			out := &recorder{ResponseWriter: w, status: http.StatusOK, capture: true}
			next.ServeHTTP(out, r)

			// 原請求的 ctx 可能已逾時，保存結果用獨立的 ctx
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if out.status >= http.StatusInternalServerError {
				err = store.Abort(saveCtx, scope, key)
			} else {
				err = store.Complete(saveCtx, scope, key, &domain.IdempotencyRecord{
					Status: out.status,
					Body:   out.body.Bytes(),
				})
			}
			if err != nil {
				log.WithContext(ctx).WithError(err).WithField("key", key).Warn("failed to persist idempotency record")
			}
		})
	}
}
