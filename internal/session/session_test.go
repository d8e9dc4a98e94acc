package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/docview/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	iss, err := NewIssuer(context.Background(), key, "docview-test", ttl, testLogger())
	if err != nil {
		t.Fatalf("NewIssuer(): %v", err)
	}
	return iss
}

func TestIssuer_IssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)
	name := "Иван"

	token, err := iss.Issue(&model.Identity{Email: "a@x.com", Role: "admin", Name: &name})
	if err != nil {
		t.Fatalf("Issue(): %v", err)
	}

	kf, err := iss.Keyfunc()
	if err != nil {
		t.Fatalf("Keyfunc(): %v", err)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, kf.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer("docview-test"),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		t.Fatalf("токен не прошёл проверку: %v", err)
	}
	if claims.Subject != "a@x.com" || claims.Role != "admin" || claims.Name != name {
		t.Errorf("неожиданные claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Error("jti должен быть заполнен")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("срок жизни %s, ожидался 1h", got)
	}
}

func TestIssuer_ForeignKeyRejected(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)
	other := newTestIssuer(t, time.Hour)

	token, err := other.Issue(&model.Identity{Email: "a@x.com", Role: "user"})
	if err != nil {
		t.Fatal(err)
	}
	kf, err := iss.Keyfunc()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jwt.ParseWithClaims(token, &Claims{}, kf.Keyfunc); err == nil {
		t.Error("токен, подписанный чужим ключом, должен отклоняться")
	}
}

func TestIssuer_Expired(t *testing.T) {
	iss := newTestIssuer(t, time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, err := iss.Issue(&model.Identity{Email: "a@x.com", Role: "user"})
	if err != nil {
		t.Fatal(err)
	}
	kf, _ := iss.Keyfunc()
	if _, err := jwt.ParseWithClaims(token, &Claims{}, kf.Keyfunc); err == nil {
		t.Error("просроченный токен должен отклоняться")
	}
}

func TestIssuer_JWKSHandler(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	rec := httptest.NewRecorder()
	iss.JWKSHandler()(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}
	var body struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	if len(body.Keys) != 1 {
		t.Fatalf("ожидался 1 ключ, получено %d", len(body.Keys))
	}
	k := body.Keys[0]
	if k["kid"] != iss.kid || k["kty"] != "RSA" || k["alg"] != "RS256" {
		t.Errorf("неожиданный JWK: %v", k)
	}
	if _, private := k["d"]; private {
		t.Error("JWKS не должен содержать закрытую часть ключа")
	}
}

func TestLoadOrGenerateKey(t *testing.T) {
	key, err := LoadOrGenerateKey("", testLogger())
	if err != nil || key == nil {
		t.Fatalf("генерация ключа: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, pemData, 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadOrGenerateKey(path, testLogger())
	if err != nil {
		t.Fatalf("загрузка ключа: %v", err)
	}
	if !loaded.Equal(key) {
		t.Error("загруженный ключ не совпадает")
	}

	if _, err := LoadOrGenerateKey(filepath.Join(t.TempDir(), "missing.pem"), testLogger()); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}
}
