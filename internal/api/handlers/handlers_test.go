package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/docview/internal/api/middleware"
	"github.com/bigkaa/docview/internal/domain/model"
	"github.com/bigkaa/docview/internal/domain/role"
	"github.com/bigkaa/docview/internal/repository"
	"github.com/bigkaa/docview/internal/service"
)

// --- Моки ---

type mockAuth struct {
	issueFn  func(ctx context.Context, req service.IssueOtpRequest) error
	verifyFn func(ctx context.Context, email, code string) (*service.VerifyResult, error)
	meFn     func(ctx context.Context, email string) (*model.Identity, error)
}

func (m *mockAuth) IssueOtp(ctx context.Context, req service.IssueOtpRequest) error {
	return m.issueFn(ctx, req)
}

func (m *mockAuth) VerifyOtp(ctx context.Context, email, code string) (*service.VerifyResult, error) {
	return m.verifyFn(ctx, email, code)
}

func (m *mockAuth) GetCurrentIdentity(ctx context.Context, email string) (*model.Identity, error) {
	return m.meFn(ctx, email)
}

type mockDocs struct {
	listFn   func(ctx context.Context, filter repository.ListFilter) ([]model.DocumentSummary, error)
	uploadFn func(ctx context.Context, req service.UploadRequest) (*model.Document, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockDocs) List(ctx context.Context, filter repository.ListFilter) ([]model.DocumentSummary, error) {
	return m.listFn(ctx, filter)
}

func (m *mockDocs) Upload(ctx context.Context, req service.UploadRequest) (*model.Document, error) {
	return m.uploadFn(ctx, req)
}

func (m *mockDocs) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type mockStream struct {
	streamFn func(ctx context.Context, w http.ResponseWriter, id, viewer string) error
}

func (m *mockStream) Stream(ctx context.Context, w http.ResponseWriter, id, viewer string) error {
	return m.streamFn(ctx, w, id, viewer)
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockChecker struct{ status, msg string }

func (m *mockChecker) CheckReady() (string, string) { return m.status, m.msg }

// --- Вспомогательные функции ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(auth *mockAuth, docs *mockDocs, stream *mockStream) *APIHandler {
	if auth == nil {
		auth = &mockAuth{}
	}
	if docs == nil {
		docs = &mockDocs{}
	}
	if stream == nil {
		stream = &mockStream{}
	}
	health := NewHealthHandler(&mockChecker{status: "ok"}, nil, &mockPinger{})
	return NewAPIHandler(auth, docs, stream, health, 1<<20, testLogger())
}

func withClaims(r *http.Request, email, roleName string) *http.Request {
	return r.WithContext(middleware.WithClaims(r.Context(), &middleware.AuthClaims{Email: email, Role: roleName}))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ответа не JSON: %v (%q)", err, rec.Body.String())
	}
	return body.Error.Code
}

// --- send-otp ---

func TestSendOtp_Success(t *testing.T) {
	var got service.IssueOtpRequest
	h := newTestHandler(&mockAuth{
		issueFn: func(_ context.Context, req service.IssueOtpRequest) error {
			got = req
			return nil
		},
	}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp",
		jsonBody(map[string]any{"email": "New@X.com", "name": "Ann", "isRegistration": true}))
	rec := httptest.NewRecorder()
	h.SendOtp(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if got.Email != "New@X.com" || !got.IsRegistration || got.Name == nil || *got.Name != "Ann" {
		t.Errorf("запрос в сервис = %+v", got)
	}
	if !strings.Contains(rec.Body.String(), "OTP sent successfully") {
		t.Errorf("тело = %q", rec.Body.String())
	}
}

func TestSendOtp_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"throttle", &service.RetryAfterError{RetryAfter: 42 * time.Second}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"уже существует", service.ErrAlreadyExists, http.StatusBadRequest, "ALREADY_EXISTS"},
		{"не зарегистрирован", service.ErrNotRegistered, http.StatusBadRequest, "NOT_REGISTERED"},
		{"невалидный email", fmt.Errorf("%w: email", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"почта", service.ErrDeliveryFailed, http.StatusBadGateway, "DELIVERY_FAILED"},
		{"прочее", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockAuth{
				issueFn: func(context.Context, service.IssueOtpRequest) error { return tt.err },
			}, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", jsonBody(map[string]any{"email": "a@x.com"}))
			rec := httptest.NewRecorder()
			h.SendOtp(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if code := errorCode(t, rec); code != tt.wantBody {
				t.Errorf("code = %q, ожидался %q", code, tt.wantBody)
			}
			if tt.wantCode == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "42" {
				t.Errorf("Retry-After = %q, ожидался 42", rec.Header().Get("Retry-After"))
			}
			if strings.Contains(rec.Body.String(), "db down") {
				t.Error("внутренняя ошибка попала в ответ")
			}
		})
	}
}

func TestSendOtp_MissingEmail(t *testing.T) {
	h := newTestHandler(&mockAuth{
		issueFn: func(context.Context, service.IssueOtpRequest) error {
			t.Fatal("сервис не должен вызываться")
			return nil
		},
	}, nil, nil)

	for _, body := range []string{`{}`, `not json`} {
		rec := httptest.NewRecorder()
		h.SendOtp(rec, httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("тело %q: статус = %d, ожидался 400", body, rec.Code)
		}
	}
}

// --- verify-otp ---

func TestVerifyOtp_Success(t *testing.T) {
	h := newTestHandler(&mockAuth{
		verifyFn: func(_ context.Context, email, code string) (*service.VerifyResult, error) {
			if email != "a@x.com" || code != "123456" {
				t.Errorf("аргументы = %q, %q", email, code)
			}
			return &service.VerifyResult{
				Token:    "tok",
				Identity: &model.Identity{Email: "a@x.com", Role: role.Admin},
			}, nil
		},
	}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify-otp", jsonBody(map[string]string{"email": "a@x.com", "otp": " 123456 "}))
	rec := httptest.NewRecorder()
	h.VerifyOtp(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	var resp verifyOtpResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token != "tok" || resp.User.Email != "a@x.com" || resp.User.Role != role.Admin {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestVerifyOtp_Invalid(t *testing.T) {
	h := newTestHandler(&mockAuth{
		verifyFn: func(context.Context, string, string) (*service.VerifyResult, error) {
			return nil, service.ErrInvalidOrExpired
		},
	}, nil, nil)

	rec := httptest.NewRecorder()
	h.VerifyOtp(rec, httptest.NewRequest(http.MethodPost, "/api/auth/verify-otp", jsonBody(map[string]string{"email": "a@x.com", "otp": "000000"})))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_OR_EXPIRED" {
		t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.VerifyOtp(rec, httptest.NewRequest(http.MethodPost, "/api/auth/verify-otp", jsonBody(map[string]string{"email": "a@x.com"})))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Errorf("без кода: статус = %d, тело = %s", rec.Code, rec.Body.String())
	}
}

// --- me ---

func TestMe(t *testing.T) {
	h := newTestHandler(&mockAuth{
		meFn: func(_ context.Context, email string) (*model.Identity, error) {
			if email == "gone@x.com" {
				return nil, service.ErrNotFound
			}
			return &model.Identity{Email: email, Role: role.User, IsVerified: true}, nil
		},
	}, nil, nil)

	rec := httptest.NewRecorder()
	h.Me(rec, withClaims(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "u@x.com", role.User))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"email":"u@x.com"`) {
		t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Me(rec, withClaims(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "gone@x.com", role.User))
	if rec.Code != http.StatusNotFound {
		t.Errorf("удалённый пользователь: статус = %d, ожидался 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("без claims: статус = %d, ожидался 401", rec.Code)
	}
}

// --- документы ---

func TestListDocuments(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := newTestHandler(nil, &mockDocs{
		listFn: func(_ context.Context, f repository.ListFilter) ([]model.DocumentSummary, error) {
			if f.Category != "Legal" || f.Query != "nda" {
				t.Errorf("фильтр = %+v", f)
			}
			return []model.DocumentSummary{{ID: "d1", Title: "NDA", Category: "Legal", CreatedAt: created}}, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.ListDocuments(rec, httptest.NewRequest(http.MethodGet, "/api/pdfs/all?category=Legal&q=nda", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"_id":"d1"`) || strings.Contains(body, "documents/") {
		t.Errorf("тело = %s", body)
	}
}

func TestListDocuments_Empty(t *testing.T) {
	h := newTestHandler(nil, &mockDocs{
		listFn: func(context.Context, repository.ListFilter) ([]model.DocumentSummary, error) {
			return []model.DocumentSummary{}, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.ListDocuments(rec, httptest.NewRequest(http.MethodGet, "/api/pdfs/all", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("пустой список = %q, ожидался []", rec.Body.String())
	}
}

func TestStreamDocument(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"успех", nil, http.StatusOK},
		{"нет документа", service.ErrNotFound, http.StatusNotFound},
		{"хранилище", fmt.Errorf("%w: timeout", service.ErrUpstreamUnavailable), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(nil, nil, &mockStream{
				streamFn: func(_ context.Context, w http.ResponseWriter, id, viewer string) error {
					if id != "d1" || viewer != "u@x.com" {
						t.Errorf("id = %q, viewer = %q", id, viewer)
					}
					if tt.err != nil {
						return tt.err
					}
					w.Header().Set("Content-Type", "application/pdf")
					_, _ = w.Write([]byte("%PDF-1.7"))
					return nil
				},
			})

			req := withClaims(httptest.NewRequest(http.MethodGet, "/api/pdfs/d1", nil), "u@x.com", role.User)
			req = withURLParam(req, "id", "d1")
			rec := httptest.NewRecorder()
			h.StreamDocument(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
		})
	}
}

// multipartRequest строит запрос загрузки с файлом в поле field.
func multipartRequest(t *testing.T, field string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, "doc.pdf")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return withClaims(req, "admin@x.com", role.Admin)
}

func TestUploadDocument_Success(t *testing.T) {
	content := []byte("%PDF-1.7 test")
	for _, field := range []string{"file", "pdf"} {
		t.Run(field, func(t *testing.T) {
			h := newTestHandler(nil, &mockDocs{
				uploadFn: func(_ context.Context, req service.UploadRequest) (*model.Document, error) {
					data, _ := io.ReadAll(req.File)
					if !bytes.Equal(data, content) || req.Size != int64(len(content)) {
						t.Errorf("файл = %q (size %d)", data, req.Size)
					}
					if req.Title != "Отчёт" || req.Category != "Legal" || req.Uploader != "admin@x.com" {
						t.Errorf("запрос = %+v", req)
					}
					if req.Description == nil || *req.Description != "Q1" {
						t.Errorf("description = %v", req.Description)
					}
					return &model.Document{
						ID: "d1", Title: req.Title, Category: req.Category,
						StorageKey: "documents/d1.pdf", Size: req.Size, UploadedBy: req.Uploader,
					}, nil
				},
			}, nil)

			rec := httptest.NewRecorder()
			h.UploadDocument(rec, multipartRequest(t, field, content, map[string]string{
				"title": "Отчёт", "category": "Legal", "description": "Q1",
			}))

			if rec.Code != http.StatusCreated {
				t.Fatalf("статус = %d, тело = %s", rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "documents/d1.pdf") {
				t.Error("ключ хранилища попал в ответ")
			}
		})
	}
}

func TestUploadDocument_NoFile(t *testing.T) {
	h := newTestHandler(nil, &mockDocs{
		uploadFn: func(context.Context, service.UploadRequest) (*model.Document, error) {
			t.Fatal("сервис не должен вызываться")
			return nil, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.UploadDocument(rec, multipartRequest(t, "", nil, map[string]string{"title": "x"}))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}
}

func TestUploadDocument_BodyTooLarge(t *testing.T) {
	h := newTestHandler(nil, &mockDocs{}, nil)
	h.maxUpload = 16

	big := bytes.Repeat([]byte("x"), multipartOverhead+1024)
	rec := httptest.NewRecorder()
	h.UploadDocument(rec, multipartRequest(t, "file", big, map[string]string{"title": "x"}))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("статус = %d, ожидался 413", rec.Code)
	}
}

func TestUploadDocument_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"не PDF", fmt.Errorf("%w: файл не является PDF", service.ErrValidation), http.StatusBadRequest},
		{"размер", service.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"хранилище", fmt.Errorf("%w: down", service.ErrUpstreamUnavailable), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(nil, &mockDocs{
				uploadFn: func(context.Context, service.UploadRequest) (*model.Document, error) { return nil, tt.err },
			}, nil)
			rec := httptest.NewRecorder()
			h.UploadDocument(rec, multipartRequest(t, "file", []byte("data"), map[string]string{"title": "x"}))
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestDeleteDocument(t *testing.T) {
	h := newTestHandler(nil, &mockDocs{
		deleteFn: func(_ context.Context, id string) error {
			if id == "missing" {
				return service.ErrNotFound
			}
			return nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.DeleteDocument(rec, withURLParam(httptest.NewRequest(http.MethodDelete, "/api/admin/pdf/d1", nil), "id", "d1"))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "PDF removed") {
		t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.DeleteDocument(rec, withURLParam(httptest.NewRequest(http.MethodDelete, "/api/admin/pdf/missing", nil), "id", "missing"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидался 404", rec.Code)
	}
}

// --- health ---

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		pg         ReadinessChecker
		redis      Pinger
		store      Pinger
		wantCode   int
		wantStatus string
	}{
		{"всё ok", &mockChecker{status: "ok"}, &mockPinger{}, &mockPinger{}, http.StatusOK, "ok"},
		{"без redis", &mockChecker{status: "ok"}, nil, &mockPinger{}, http.StatusOK, "ok"},
		{"postgres fail", &mockChecker{status: "fail", msg: "down"}, nil, &mockPinger{}, http.StatusServiceUnavailable, "fail"},
		{"redis fail", &mockChecker{status: "ok"}, &mockPinger{err: errors.New("refused")}, &mockPinger{}, http.StatusServiceUnavailable, "fail"},
		{"хранилище fail", &mockChecker{status: "ok"}, nil, &mockPinger{err: errors.New("refused")}, http.StatusOK, "degraded"},
		{"нет checker", nil, nil, &mockPinger{}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.redis, tt.store)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, ожидался %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("статус = %d, тело = %s", rec.Code, rec.Body.String())
	}
}
