package hash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenBytes длина случайной части токена сессии
const TokenBytes = 32

// TokenHasher хеширует токены сессий с использованием SHA256.
// В базе и в кэше хранится только дайджест.
type TokenHasher struct{}

// NewTokenHasher создает новый экземпляр TokenHasher
func NewTokenHasher() *TokenHasher {
	return &TokenHasher{}
}

// Hash возвращает hex SHA256 токена
func (h *TokenHasher) Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Verify проверяет токен против хеша
func (h *TokenHasher) Verify(token, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(token)), []byte(hash)) == 1
}

// NewToken генерирует непрозрачный токен из TokenBytes случайных байт
func NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint короткий отпечаток хеша для логов
func Fingerprint(tokenHash string) string {
	if len(tokenHash) <= 8 {
		return tokenHash
	}
	return tokenHash[:8]
}
