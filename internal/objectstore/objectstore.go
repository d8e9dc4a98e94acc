// Пакет objectstore — S3-совместимое хранилище PDF-файлов (MinIO/S3) на minio-go.
// Сервисы работают с хранилищем только по ключу объекта; URL наружу не отдаются.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound — объекта с указанным ключом нет в бакете.
var ErrObjectNotFound = errors.New("объект не найден в хранилище")

// ObjectInfo — метаданные объекта.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// Config — параметры подключения.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store — клиент бакета документов.
type Store struct {
	cl     *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// New создаёт клиента. Соединение не проверяется; см. EnsureBucket.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("создание клиента объектного хранилища: %w", err)
	}
	return &Store{
		cl:     cl,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger.With(slog.String("component", "objectstore")),
	}, nil
}

// EnsureBucket создаёт бакет, если его ещё нет.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("проверка бакета %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.cl.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("создание бакета %s: %w", s.bucket, err)
	}
	s.logger.Info("Бакет создан", slog.String("bucket", s.bucket))
	return nil
}

// Ping проверяет доступность хранилища и наличие бакета.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("бакет %s не существует", s.bucket)
	}
	return nil
}

// Put загружает поток под ключом key. size < 0 — размер неизвестен
// (minio-go использует multipart-загрузку).
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	info, err := s.cl.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("загрузка объекта %s: %w", key, err)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, ContentType: contentType, ETag: info.ETag}, nil
}

// Open открывает поток чтения объекта. Метаданные берутся из HEAD-запроса,
// поэтому отсутствие объекта обнаруживается до начала передачи.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	stat, err := s.cl.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("получение метаданных объекта %s: %w", key, err)
	}

	obj, err := s.cl.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("открытие объекта %s: %w", key, err)
	}

	return obj, ObjectInfo{
		Key:         stat.Key,
		Size:        stat.Size,
		ContentType: stat.ContentType,
		ETag:        stat.ETag,
	}, nil
}

// Remove удаляет объект. Отсутствие объекта ошибкой не считается.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.cl.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("удаление объекта %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
