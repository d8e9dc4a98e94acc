// Пакет session — выпуск сессионных токенов docview.
//
// Токены — JWT RS256 (sub = email, role, name, iss, iat, exp, jti).
// Открытый ключ публикуется в формате JWKS на /.well-known/jwks.json
// и используется Access Guard через keyfunc. Токены stateless:
// отзыв не поддерживается, срок жизни задаётся DV_SESSION_TTL.
package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/docview/internal/api/errors"
	"github.com/bigkaa/docview/internal/domain/model"
)

// keyBits — размер эфемерного RSA-ключа.
const keyBits = 2048

// Claims — claims сессионного токена.
type Claims struct {
	jwt.RegisteredClaims
	// Role — роль пользователя на момент выпуска
	Role string `json:"role"`
	// Name — отображаемое имя (опционально)
	Name string `json:"name,omitempty"`
}

// LoadOrGenerateKey читает PEM RSA-ключ (PKCS#1 или PKCS#8).
// Пустой path — генерируется эфемерный ключ; токены не переживут рестарт.
func LoadOrGenerateKey(path string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if path == "" {
		key, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, fmt.Errorf("генерация RSA-ключа: %w", err)
		}
		logger.Warn("DV_JWT_PRIVATE_KEY_PATH не задан, используется эфемерный ключ подписи")
		return key, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение ключа %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("разбор ключа %s: %w", path, err)
	}
	return key, nil
}

// Issuer подписывает токены и хранит JWKS с открытым ключом.
type Issuer struct {
	key     *rsa.PrivateKey
	kid     string
	issuer  string
	ttl     time.Duration
	storage jwkset.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewIssuer создаёт Issuer и записывает открытый ключ в in-memory JWKS.
func NewIssuer(ctx context.Context, key *rsa.PrivateKey, issuer string, ttl time.Duration, logger *slog.Logger) (*Issuer, error) {
	kid, err := keyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			KID: kid,
			ALG: jwkset.AlgRS256,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWK: %w", err)
	}

	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(ctx, jwk); err != nil {
		return nil, fmt.Errorf("запись JWK: %w", err)
	}

	return &Issuer{
		key:     key,
		kid:     kid,
		issuer:  issuer,
		ttl:     ttl,
		storage: storage,
		logger:  logger.With(slog.String("component", "session_issuer")),
		now:     time.Now,
	}, nil
}

// Issue выпускает токен для пользователя.
func (i *Issuer) Issue(identity *model.Identity) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Email,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Role: identity.Role,
	}
	if identity.Name != nil {
		claims.Name = *identity.Name
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("подпись токена: %w", err)
	}
	return signed, nil
}

// Keyfunc возвращает keyfunc для проверки подписи выпущенных токенов.
func (i *Issuer) Keyfunc() (keyfunc.Keyfunc, error) {
	kf, err := keyfunc.New(keyfunc.Options{Storage: i.storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return kf, nil
}

// IssuerName возвращает значение claim iss.
func (i *Issuer) IssuerName() string {
	return i.issuer
}

// JWKSHandler отдаёт открытые ключи в формате JWK Set.
func (i *Issuer) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := i.storage.JSONPublic(r.Context())
		if err != nil {
			i.logger.Error("Ошибка сериализации JWKS", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Ошибка получения ключей")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(raw)
	}
}

// keyID — идентификатор ключа: base64url(SHA-256(SPKI))[:16].
func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("сериализация открытого ключа: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])[:16], nil
}
