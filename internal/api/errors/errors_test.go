package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWriteError_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "Документ не найден")

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус %d, ожидался 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	if body.Error.Code != CodeNotFound || body.Error.Message != "Документ не найден" {
		t.Errorf("неожиданное тело: %+v", body)
	}
}

func TestRateLimited_RetryAfter(t *testing.T) {
	tests := []struct {
		retry time.Duration
		want  string
	}{
		{40 * time.Second, "40"},
		{1500 * time.Millisecond, "2"},
		{0, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		RateLimited(rec, "Слишком частые запросы", tt.retry)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("статус %d, ожидался 429", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != tt.want {
			t.Errorf("Retry-After = %q, ожидалось %q", got, tt.want)
		}
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"invalid_or_expired", InvalidOrExpired, http.StatusBadRequest, CodeInvalidOrExpired},
		{"already_exists", AlreadyExists, http.StatusBadRequest, CodeAlreadyExists},
		{"not_registered", NotRegistered, http.StatusBadRequest, CodeNotRegistered},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "x") }, http.StatusForbidden, CodeForbidden},
		{"too_large", func(w http.ResponseWriter) { PayloadTooLarge(w, "x") }, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{"upstream", func(w http.ResponseWriter) { UpstreamUnavailable(w, "x") }, http.StatusBadGateway, CodeUpstreamUnavailable},
		{"delivery", func(w http.ResponseWriter) { DeliveryFailed(w, "x") }, http.StatusBadGateway, CodeDeliveryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			var body errorBody
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if rec.Code != tt.status || body.Error.Code != tt.code {
				t.Errorf("получено %d/%s, ожидалось %d/%s", rec.Code, body.Error.Code, tt.status, tt.code)
			}
		})
	}
}
