package viewer

import "sync"

// Buffer — байты загруженного документа. Освобождается ровно один раз.
type Buffer struct {
	mu        sync.Mutex
	data      []byte
	once      sync.Once
	onRelease func()
}

// NewBuffer оборачивает data. onRelease вызывается при освобождении (может быть nil).
func NewBuffer(data []byte, onRelease func()) *Buffer {
	return &Buffer{data: data, onRelease: onRelease}
}

// Bytes возвращает содержимое; nil после Release.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len — размер содержимого.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Release обнуляет содержимое. Повторные вызовы ничего не делают.
func (b *Buffer) Release() {
	b.once.Do(func() {
		b.mu.Lock()
		clear(b.data)
		b.data = nil
		b.mu.Unlock()
		if b.onRelease != nil {
			b.onRelease()
		}
	})
}
