// handler.go — HTTP-обработчики API docview.
// Объединяет health, аутентификацию и документы; бизнес-логика в service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/docview/internal/api/errors"
	"github.com/bigkaa/docview/internal/domain/model"
	"github.com/bigkaa/docview/internal/repository"
	"github.com/bigkaa/docview/internal/service"
)

// AuthService — операции жизненного цикла OTP.
type AuthService interface {
	IssueOtp(ctx context.Context, req service.IssueOtpRequest) error
	VerifyOtp(ctx context.Context, email, code string) (*service.VerifyResult, error)
	GetCurrentIdentity(ctx context.Context, email string) (*model.Identity, error)
}

// DocumentService — реестр документов.
type DocumentService interface {
	List(ctx context.Context, filter repository.ListFilter) ([]model.DocumentSummary, error)
	Upload(ctx context.Context, req service.UploadRequest) (*model.Document, error)
	Delete(ctx context.Context, id string) error
}

// StreamService — потоковая отдача документа.
type StreamService interface {
	Stream(ctx context.Context, w http.ResponseWriter, id, viewer string) error
}

// APIHandler — обработчики API.
type APIHandler struct {
	auth      AuthService
	docs      DocumentService
	stream    StreamService
	health    *HealthHandler
	maxUpload int64
	logger    *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// maxUpload — предел тела запроса загрузки в байтах.
func NewAPIHandler(
	auth AuthService,
	docs DocumentService,
	stream StreamService,
	health *HealthHandler,
	maxUpload int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		auth:      auth,
		docs:      docs,
		stream:    stream,
		health:    health,
		maxUpload: maxUpload,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// ackResponse — подтверждение операции без данных.
type ackResponse struct {
	Msg string `json:"msg"`
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса не длиннее 64 KiB.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	return dec.Decode(dst)
}

// writeServiceError преобразует ошибку сервиса в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 без деталей.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var retry *service.RetryAfterError

	switch {
	case errors.As(err, &retry):
		apierrors.RateLimited(w, "Повторный код можно запросить позже", retry.RetryAfter)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInvalidOrExpired):
		apierrors.InvalidOrExpired(w)
	case errors.Is(err, service.ErrAlreadyExists):
		apierrors.AlreadyExists(w)
	case errors.Is(err, service.ErrNotRegistered):
		apierrors.NotRegistered(w)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrPayloadTooLarge):
		apierrors.PayloadTooLarge(w, "Файл превышает допустимый размер")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		apierrors.UpstreamUnavailable(w, "Хранилище документов недоступно")
	case errors.Is(err, service.ErrDeliveryFailed):
		apierrors.DeliveryFailed(w, "Не удалось отправить код, попробуйте ещё раз")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
