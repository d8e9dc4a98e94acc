package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupStore запускает MinIO в контейнере и создаёт бакет.
func setupStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd: []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить MinIO контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Не удалось получить endpoint: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := New(Config{
		Endpoint: endpoint, AccessKey: "minioadmin", SecretKey: "minioadmin", Bucket: "docs",
	}, logger)
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() вернул ошибку: %v", err)
	}
	return store
}

func TestStore_PutOpenRemove(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	content := []byte("%PDF-1.4 test document")
	info, err := store.Put(ctx, "documents/a.pdf", bytes.NewReader(content), int64(len(content)), "application/pdf")
	if err != nil {
		t.Fatalf("Put(): %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Size = %d, ожидалось %d", info.Size, len(content))
	}

	rc, stat, err := store.Open(ctx, "documents/a.pdf")
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("чтение объекта: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: %q", got)
	}
	if stat.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", stat.ContentType)
	}

	if err := store.Remove(ctx, "documents/a.pdf"); err != nil {
		t.Fatalf("Remove(): %v", err)
	}
	if _, _, err := store.Open(ctx, "documents/a.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("после удаления ожидался ErrObjectNotFound, получено %v", err)
	}
	if err := store.Remove(ctx, "documents/a.pdf"); err != nil {
		t.Errorf("повторный Remove() не должен возвращать ошибку: %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	store := setupStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() вернул ошибку: %v", err)
	}
}
