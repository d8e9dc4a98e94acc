package service

import (
	"testing"
	"time"

	"github.com/bigkaa/docview/internal/domain/model"
)

func TestCacheService_SetGetDelete(t *testing.T) {
	c := NewCacheService(10, time.Minute)

	if _, ok := c.Get("d1"); ok {
		t.Fatal("пустой кэш не должен возвращать записи")
	}

	c.Set(&model.Document{ID: "d1", Title: "A"})
	doc, ok := c.Get("d1")
	if !ok || doc.Title != "A" {
		t.Fatalf("Get() = %+v, %v", doc, ok)
	}

	c.Delete("d1")
	if _, ok := c.Get("d1"); ok {
		t.Error("запись должна быть удалена")
	}
}

func TestCacheService_TTL(t *testing.T) {
	c := NewCacheService(10, 50*time.Millisecond)
	c.Set(&model.Document{ID: "d1"})

	time.Sleep(120 * time.Millisecond)
	if _, ok := c.Get("d1"); ok {
		t.Error("запись должна истечь по TTL")
	}
}

func TestCacheService_Eviction(t *testing.T) {
	c := NewCacheService(2, time.Minute)
	c.Set(&model.Document{ID: "a"})
	c.Set(&model.Document{ID: "b"})
	c.Set(&model.Document{ID: "c"})

	if _, ok := c.Get("a"); ok {
		t.Error("самая старая запись должна быть вытеснена")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("новая запись должна быть в кэше")
	}
}
