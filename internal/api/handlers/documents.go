// documents.go — обработчики документов: список, просмотр, загрузка, удаление.
package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docview/internal/api/errors"
	"github.com/bigkaa/docview/internal/api/middleware"
	"github.com/bigkaa/docview/internal/domain/model"
	"github.com/bigkaa/docview/internal/repository"
	"github.com/bigkaa/docview/internal/service"
)

const (
	// multipartOverhead — запас на границы и текстовые поля формы.
	multipartOverhead = 1 << 20
	// multipartMemory — часть формы, которая держится в памяти; остальное во временных файлах.
	multipartMemory = 8 << 20
)

// uploadFileFields — имена поля файла: основное и старое клиентское.
var uploadFileFields = []string{"file", "pdf"}

// documentResponse — метаданные загруженного документа. Ключ хранилища не отдаётся.
type documentResponse struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Category    string    `json:"category"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toDocumentResponse(d *model.Document) documentResponse {
	return documentResponse{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		ContentType: d.ContentType,
		Size:        d.Size,
		UploadedBy:  d.UploadedBy,
		CreatedAt:   d.CreatedAt,
	}
}

// ListDocuments — GET /api/pdfs/all[?category=&q=].
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.docs.List(r.Context(), repository.ListFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Query:    strings.TrimSpace(q.Get("q")),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "list_documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// StreamDocument — GET /api/pdfs/{id}.
// Серверный WriteTimeout снимается: отдача крупного файла может его превысить.
func (h *APIHandler) StreamDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	viewer := ""
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		viewer = claims.Email
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("Не удалось снять write deadline",
			slog.String("error", err.Error()),
		)
	}

	if err := h.stream.Stream(r.Context(), w, id, viewer); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Документ не найден")
			return
		}
		h.writeServiceError(w, r, err, "stream_document")
	}
}

// UploadDocument — POST /api/admin/upload (multipart/form-data).
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Файл превышает допустимый размер")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header := formFile(r)
	if file == nil {
		apierrors.ValidationError(w, "Файл не загружен")
		return
	}
	defer file.Close()

	req := service.UploadRequest{
		Title:    r.FormValue("title"),
		Category: r.FormValue("category"),
		File:     file,
		Size:     header.Size,
		Uploader: claims.Email,
	}
	if _, ok := r.MultipartForm.Value["description"]; ok {
		d := r.FormValue("description")
		req.Description = &d
	}

	doc, err := h.docs.Upload(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "upload_document")
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// DeleteDocument — DELETE /api/admin/pdf/{id}.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.docs.Delete(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Документ не найден")
			return
		}
		h.writeServiceError(w, r, err, "delete_document")
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Msg: "PDF removed"})
}

// formFile возвращает первый найденный файл формы.
func formFile(r *http.Request) (multipart.File, *multipart.FileHeader) {
	for _, field := range uploadFileFields {
		f, hdr, err := r.FormFile(field)
		if err == nil {
			return f, hdr
		}
	}
	return nil, nil
}
