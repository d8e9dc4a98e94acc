// stream.go — потоковая отдача PDF из объектного хранилища.
// Pipeline: Document (cache/DB) → открытие объекта → заголовки → io.Copy.
// Файл целиком в памяти не держится.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docview/internal/objectstore"
)

var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_streams_total",
		Help: "Общее количество запросов на просмотр документа (по статусу).",
	}, []string{"status"})

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dv_stream_duration_seconds",
		Help:    "Длительность отдачи документа (от запроса до завершения streaming).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_stream_bytes_total",
		Help: "Общее количество переданных байт документов.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dv_active_streams",
		Help: "Количество активных потоков документов.",
	})
)

// StreamService — ретрансляция документов клиенту.
type StreamService struct {
	docs   *DocumentService
	store  ObjectStore
	logger *slog.Logger
}

// NewStreamService создаёт сервис ретрансляции.
func NewStreamService(docs *DocumentService, store ObjectStore, logger *slog.Logger) *StreamService {
	return &StreamService{
		docs:   docs,
		store:  store,
		logger: logger.With(slog.String("component", "stream_service")),
	}
}

// Stream отдаёт документ id в w.
//
// До отправки заголовков возвращает ErrNotFound или ErrUpstreamUnavailable.
// Ошибка посреди передачи логируется; ответ обрывается, возвращается nil.
func (s *StreamService) Stream(ctx context.Context, w http.ResponseWriter, id, viewer string) error {
	start := time.Now()
	activeStreams.Inc()
	defer activeStreams.Dec()

	// 1. Метаданные
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			streamsTotal.WithLabelValues("not_found").Inc()
		} else {
			streamsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	// 2. Открытие объекта
	body, info, err := s.store.Open(ctx, doc.StorageKey)
	if err != nil {
		streamsTotal.WithLabelValues("store_error").Inc()
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			s.logger.Warn("Объект документа отсутствует в хранилище",
				slog.String("id", doc.ID),
				slog.String("key", doc.StorageKey),
			)
		} else {
			s.logger.Error("Ошибка открытия объекта",
				slog.String("id", doc.ID),
				slog.String("error", err.Error()),
			)
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer body.Close()

	// 3. Заголовки
	h := w.Header()
	h.Set("Content-Type", pdfContentType)
	h.Set("Content-Disposition", ContentDisposition(doc.Title))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if info.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	// 4. Передача
	written, err := io.Copy(w, body)
	if err != nil {
		s.logger.Error("Ошибка streaming документа",
			slog.String("id", doc.ID),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		streamsTotal.WithLabelValues("stream_error").Inc()
		return nil // заголовки уже отправлены
	}

	duration := time.Since(start)
	streamsTotal.WithLabelValues("success").Inc()
	streamDuration.Observe(duration.Seconds())
	streamBytesTotal.Add(float64(written))

	s.logger.Info("Документ отдан",
		slog.String("id", doc.ID),
		slog.String("viewer", viewer),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
	)
	return nil
}

// ContentDisposition формирует inline-заголовок с именем <title>.pdf.
// Кавычки, обратные слэши и управляющие символы заменяются;
// для не-ASCII заголовков добавляется filename* (RFC 5987).
func ContentDisposition(title string) string {
	var (
		b        strings.Builder
		nonASCII bool
	)
	for _, r := range title {
		switch {
		case r == '"' || r == '\\' || r == '/' || unicode.IsControl(r):
			b.WriteByte('_')
		case r > unicode.MaxASCII:
			nonASCII = true
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		name = "document"
	}

	v := `inline; filename="` + name + `.pdf"`
	if nonASCII {
		v += "; filename*=UTF-8''" + url.PathEscape(strings.TrimSpace(title)+".pdf")
	}
	return v
}
