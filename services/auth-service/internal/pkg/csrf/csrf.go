package csrf

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenType = "csrf"

// ErrMismatch токен выдан для другой сессии
var ErrMismatch = errors.New("csrf token bound to another session")

// Claims содержимое анти-CSRF токена. Subject привязывает токен к сессии.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Manager выпускает и проверяет анти-CSRF токены, подписанные HS256
type Manager struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewManager создает новый экземпляр менеджера
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		nowFn:  time.Now,
	}
}

// Issue выпускает токен для сессии с дайджестом sessionHash
func (m *Manager) Issue(sessionHash string) (string, time.Time, error) {
	now := m.nowFn().UTC()
	expiresAt := now.Add(m.ttl)

	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   binding(sessionHash),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign csrf token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify проверяет подпись, срок и привязку токена к сессии
func (m *Manager) Verify(token, sessionHash string) error {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.nowFn), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("parse csrf token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != tokenType {
		return fmt.Errorf("invalid csrf token")
	}
	if claims.Subject != binding(sessionHash) {
		return ErrMismatch
	}
	return nil
}

// Дайджест сессии сам по себе в токен не попадает
func binding(sessionHash string) string {
	sum := sha256.Sum256([]byte("csrf:" + sessionHash))
	return hex.EncodeToString(sum[:16])
}
