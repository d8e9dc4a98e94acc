// session.go — хранилище клиентской сессии: токен, пользователь, состояние запуска.
package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionState — состояние клиентской сессии.
type SessionState string

const (
	// StateUnresolved — сохранённый токен ещё не проверен
	StateUnresolved SessionState = "unresolved"
	// StateAnonymous — пользователь не вошёл
	StateAnonymous SessionState = "anonymous"
	// StateAuthenticated — токен подтверждён, пользователь известен
	StateAuthenticated SessionState = "authenticated"
)

// User — текущий пользователь на стороне клиента.
type User struct {
	Email string  `json:"email"`
	Role  string  `json:"role"`
	Name  *string `json:"name,omitempty"`
}

// IsAdmin сообщает, есть ли у пользователя роль admin.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == "admin"
}

// Snapshot — согласованный срез сессии.
type Snapshot struct {
	State SessionState
	Token string
	User  *User
}

// TokenStore — постоянное хранилище токена между запусками клиента.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// Session — потокобезопасное хранилище сессии с подписчиками.
type Session struct {
	mu     sync.RWMutex
	state  SessionState
	token  string
	user   *User
	store  TokenStore
	nextID int
	subs   map[int]func(Snapshot)
}

// NewSession создаёт сессию в состоянии unresolved.
// store может быть nil: тогда токен живёт только в памяти.
func NewSession(store TokenStore) *Session {
	return &Session{
		state: StateUnresolved,
		store: store,
		subs:  make(map[int]func(Snapshot)),
	}
}

// Restore загружает сохранённый токен из TokenStore.
// Возвращает false, если токена нет.
func (s *Session) Restore() (bool, error) {
	if s.store == nil {
		return s.Token() != "", nil
	}
	token, err := s.store.Load()
	if err != nil {
		return false, fmt.Errorf("загрузка токена: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return true, nil
}

// Login сохраняет токен и пользователя, переводит сессию в authenticated.
func (s *Session) Login(token string, user User) error {
	if s.store != nil {
		if err := s.store.Save(token); err != nil {
			return fmt.Errorf("сохранение токена: %w", err)
		}
	}
	s.mu.Lock()
	s.token = token
	s.user = &user
	s.state = StateAuthenticated
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// setUser подтверждает восстановленный токен.
func (s *Session) setUser(user User) {
	s.mu.Lock()
	s.user = &user
	s.state = StateAuthenticated
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Discard очищает токен и пользователя; сессия становится anonymous.
// Повторный вызов на anonymous-сессии подписчиков не уведомляет.
func (s *Session) Discard() {
	s.mu.Lock()
	if s.state == StateAnonymous && s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.user = nil
	s.state = StateAnonymous
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.store != nil {
		// Ошибка очистки не мешает выходу: токена в памяти уже нет
		_ = s.store.Clear()
	}
	s.notify(snap)
}

// Token возвращает текущий токен (пусто, если нет).
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// State возвращает текущее состояние.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User возвращает копию текущего пользователя или nil.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Snapshot возвращает согласованную копию сессии.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, Token: s.token}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Subscribe регистрирует fn на изменения сессии. Возвращает функцию отписки.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify вызывает подписчиков вне блокировки.
func (s *Session) notify(snap Snapshot) {
	s.mu.RLock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// FileTokenStore хранит токен в файле с правами 0600.
type FileTokenStore struct {
	Path string
}

// Load читает токен; отсутствие файла — не ошибка.
func (f FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Save записывает токен, создавая каталог при необходимости.
func (f FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token), 0o600)
}

// Clear удаляет файл токена.
func (f FileTokenStore) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
