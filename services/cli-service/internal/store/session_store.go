package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoSession файл состояния отсутствует
var ErrNoSession = errors.New("сессия не найдена")

// User пользователь, вернувшийся при входе
type User struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"negocio_id"`
	Username    string   `json:"username"`
	Name        string   `json:"nombre"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"rol"`
	Permissions []string `json:"permisos"`
}

// Cookie сохраненная cookie сервера. Значение cookie сессии CLI не
// интерпретирует, только возвращает серверу.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session локальное состояние сессии CLI
type Session struct {
	Server    string    `json:"server"`
	TenantID  string    `json:"negocio_id"`
	User      *User     `json:"usuario,omitempty"`
	Cookies   []Cookie  `json:"cookies"`
	CSRFToken string    `json:"csrf_token,omitempty"`
	ExpiresAt time.Time `json:"expira"`
	Offline   bool      `json:"offline,omitempty"`
}

// SessionStore хранит состояние сессии в файле с правами 0600
type SessionStore struct {
	mu   sync.Mutex
	path string
}

// NewSessionStore создает хранилище по указанному пути
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Path путь к файлу состояния
func (s *SessionStore) Path() string {
	return s.path
}

// Load загружает состояние, ErrNoSession если входа не было
func (s *SessionStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла сессии: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сессии: %w", err)
	}
	return &session, nil
}

// Save атомарно перезаписывает файл состояния
func (s *SessionStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации сессии: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("ошибка сохранения сессии: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ошибка сохранения сессии: %w", err)
	}
	return nil
}

// Clear удаляет файл состояния
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла сессии: %w", err)
	}
	return nil
}
