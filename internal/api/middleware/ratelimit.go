// ratelimit.go — ограничение частоты запросов по IP клиента.
// Используется на verify-otp против перебора кодов.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/docview/internal/api/errors"
)

// idleLimiterTTL — через сколько неиспользуемый лимитер клиента удаляется.
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter — token bucket на каждого клиента.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewRateLimiter разрешает perMinute запросов в минуту с каждого IP.
// perMinute <= 0 отключает ограничение.
func NewRateLimiter(perMinute int, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		burst:   perMinute,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "rate_limiter")),
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return rl
}

// Middleware возвращает HTTP middleware ограничения частоты.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.burst <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, retryAfter := rl.reserve(ip)
			if !allowed {
				rl.logger.Warn("Превышен лимит запросов",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				apierrors.RateLimited(w, "Слишком много попыток, повторите позже", retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reserve расходует токен клиента; при отказе возвращает время ожидания.
func (rl *RateLimiter) reserve(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now

	if cl.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, retryDelay(cl.limiter, now)
}

// retryDelay — через сколько у лимитера появится токен. Резерв
// сразу отменяется и токенов не тратит.
func retryDelay(l *rate.Limiter, now time.Time) time.Duration {
	res := l.ReserveN(now, 1)
	if !res.OK() {
		return time.Minute
	}
	defer res.CancelAt(now)
	return res.DelayFrom(now)
}

// sweepLocked удаляет давно неактивных клиентов. Вызывается под mu.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < idleLimiterTTL {
		return
	}
	rl.lastSweep = now
	for k, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > idleLimiterTTL {
			delete(rl.clients, k)
		}
	}
}

// clientIP — адрес клиента без порта. Заголовкам прокси здесь не верим:
// RemoteAddr переписывает только TrustedProxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
