// documents.go — реестр документов: список, загрузка, удаление.
// Загрузка: сначала объект в хранилище, затем запись метаданных.
// Ошибка хранилища прерывает загрузку без записи в БД.
package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docview/internal/domain/model"
	"github.com/bigkaa/docview/internal/objectstore"
	"github.com/bigkaa/docview/internal/repository"
)

const (
	pdfContentType = "application/pdf"
	// objectPrefix — префикс ключей объектов документов в бакете.
	objectPrefix   = "documents/"
	maxTitleLength = 300
)

var pdfMagic = []byte("%PDF-")

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_uploads_total",
		Help: "Общее количество загрузок документов (по статусу).",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_upload_bytes_total",
		Help: "Общее количество принятых байт при загрузке.",
	})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_document_deletes_total",
		Help: "Общее количество удалений документов (по статусу).",
	}, []string{"status"})
)

// ObjectStore — объектное хранилище PDF-файлов.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (objectstore.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, objectstore.ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// UploadRequest — параметры загрузки документа.
type UploadRequest struct {
	Title       string
	Description *string
	Category    string
	// File — содержимое; Size — его размер из multipart-заголовка
	File io.Reader
	Size int64
	// Uploader — email администратора из токена
	Uploader string
}

// DocumentService — операции над реестром документов.
type DocumentService struct {
	repo          repository.DocumentRepository
	store         ObjectStore
	cache         *CacheService
	maxBytes      int64
	deleteObjects bool
	logger        *slog.Logger
}

// NewDocumentService создаёт сервис реестра.
// deleteObjects — удалять ли объект из хранилища вместе с записью.
func NewDocumentService(
	repo repository.DocumentRepository,
	store ObjectStore,
	cache *CacheService,
	maxBytes int64,
	deleteObjects bool,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		repo:          repo,
		store:         store,
		cache:         cache,
		maxBytes:      maxBytes,
		deleteObjects: deleteObjects,
		logger:        logger.With(slog.String("component", "document_service")),
	}
}

// List возвращает проекции документов, новые первыми.
func (s *DocumentService) List(ctx context.Context, filter repository.ListFilter) ([]model.DocumentSummary, error) {
	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("получение списка документов: %w", err)
	}

	result := make([]model.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.Summary())
	}
	return result, nil
}

// Get возвращает документ из кэша или БД.
func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if doc, ok := s.cache.Get(id); ok {
		return doc, nil
	}

	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение документа: %w", err)
	}

	s.cache.Set(doc)
	return doc, nil
}

// Upload проверяет запрос, сохраняет файл и создаёт запись.
// Проверки выполняются до обращения к хранилищу.
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*model.Document, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, validationError("заголовок обязателен")
	}
	if len([]rune(title)) > maxTitleLength {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, validationError("заголовок длиннее %d символов", maxTitleLength)
	}
	if req.File == nil || req.Size <= 0 {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, validationError("файл обязателен")
	}
	if req.Size > s.maxBytes {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, ErrPayloadTooLarge
	}

	body := bufio.NewReader(req.File)
	head, err := body.Peek(len(pdfMagic))
	if err != nil || !bytes.Equal(head, pdfMagic) {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, validationError("файл не является PDF")
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = model.DefaultCategory
	}
	var description *string
	if req.Description != nil {
		if d := strings.TrimSpace(*req.Description); d != "" {
			description = &d
		}
	}

	id := uuid.NewString()
	key := objectPrefix + id + ".pdf"

	// 1. Объект в хранилище
	info, err := s.store.Put(ctx, key, io.LimitReader(body, req.Size), req.Size, pdfContentType)
	if err != nil {
		uploadsTotal.WithLabelValues("store_error").Inc()
		s.logger.Error("Ошибка загрузки объекта",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// 2. Запись метаданных
	doc := &model.Document{
		ID:          id,
		Title:       title,
		Description: description,
		Category:    category,
		StorageKey:  key,
		ContentType: pdfContentType,
		Size:        info.Size,
		UploadedBy:  req.Uploader,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		uploadsTotal.WithLabelValues("db_error").Inc()
		if rmErr := s.store.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			s.logger.Error("Не удалось удалить объект после ошибки записи метаданных",
				slog.String("key", key),
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, fmt.Errorf("создание записи документа: %w", err)
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(info.Size))
	s.logger.Info("Документ загружен",
		slog.String("id", doc.ID),
		slog.String("title", doc.Title),
		slog.String("uploaded_by", doc.UploadedBy),
		slog.Int64("size", doc.Size),
	)
	return doc, nil
}

// Delete удаляет запись документа и инвалидирует кэш.
// Объект удаляется только при включённой политике; ошибки удаления
// объекта логируются и на результат не влияют.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			deletesTotal.WithLabelValues("not_found").Inc()
			return ErrNotFound
		}
		deletesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("удаление документа: %w", err)
	}
	s.cache.Delete(id)

	if s.deleteObjects {
		if err := s.store.Remove(ctx, doc.StorageKey); err != nil {
			s.logger.Warn("Объект документа не удалён из хранилища",
				slog.String("id", id),
				slog.String("key", doc.StorageKey),
				slog.String("error", err.Error()),
			)
		}
	}

	deletesTotal.WithLabelValues("success").Inc()
	s.logger.Info("Документ удалён",
		slog.String("id", id),
		slog.Bool("object_removed", s.deleteObjects),
	)
	return nil
}
