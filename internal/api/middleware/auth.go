// auth.go — Access Guard: проверка сессионного токена и ролей.
// Токен берётся из Authorization: Bearer <token>; при его отсутствии
// принимается заголовок x-auth-token. Claims из токена кладутся в контекст,
// пользователь из БД повторно не читается.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/docview/internal/api/errors"
	"github.com/bigkaa/docview/internal/session"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyClaims — claims сессии в контексте запроса.
const ContextKeyClaims contextKey = "session_claims"

// LegacyTokenHeader — альтернативный заголовок токена.
const LegacyTokenHeader = "x-auth-token"

// AuthClaims — данные пользователя из проверенного токена.
type AuthClaims struct {
	// Email — sub токена
	Email string
	// Role — роль на момент выпуска токена
	Role string
	// Name — отображаемое имя (может быть пустым)
	Name string
	// TokenID — jti
	TokenID string
}

// HasAnyRole проверяет, совпадает ли роль с одной из указанных.
func (c *AuthClaims) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// SessionAuth — middleware проверки сессионных токенов.
type SessionAuth struct {
	kf     keyfunc.Keyfunc
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewSessionAuth создаёт middleware. kf — ключи из session.Issuer.Keyfunc().
func NewSessionAuth(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		kf:     kf,
		issuer: issuer,
		leeway: leeway,
		logger: logger.With(slog.String("component", "session_auth")),
	}
}

// Middleware возвращает HTTP middleware аутентификации.
func (a *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := extractToken(r)
			if tokenString == "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(a.leeway),
			}
			if a.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
			}

			raw := &session.Claims{}
			token, err := jwt.ParseWithClaims(tokenString, raw, a.kf.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				if err != nil {
					a.logger.Debug("Проверка токена не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			claims := &AuthClaims{
				Email:   raw.Subject,
				Role:    raw.Role,
				Name:    raw.Name,
				TokenID: raw.ID,
			}
			recordUser(r.Context(), claims.Email)
			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithExclusions оборачивает Middleware(), пропуская пути с указанными префиксами.
func (a *SessionAuth) WithExclusions(excludePrefixes ...string) func(http.Handler) http.Handler {
	mw := a.Middleware()

	return func(next http.Handler) http.Handler {
		protected := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// extractToken возвращает токен или пустую строку с причиной отказа.
func extractToken(r *http.Request) (token, reason string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if legacy := strings.TrimSpace(r.Header.Get(LegacyTokenHeader)); legacy != "" {
			return legacy, ""
		}
		return "", "Отсутствует заголовок Authorization"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться ПОСЛЕ SessionAuth.Middleware().
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !claims.HasAnyRole(roles...) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста; nil, если их нет.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// WithClaims кладёт claims в контекст (для тестов handlers).
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}
