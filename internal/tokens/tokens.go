package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// ShareTokenBytes - количество случайных байт в токене публичной ссылки (256 бит).
const ShareTokenBytes = 32

// minTokenBytes - нижняя граница энтропии токена: 128 бит.
const minTokenBytes = 16

// GenerateSecureToken возвращает URL-safe строку из length криптографически случайных байт.
// Длина меньше 16 байт отклоняется, чтобы токен нельзя было подобрать перебором.
func GenerateSecureToken(length int) (string, error) {
	if length < minTokenBytes {
		return "", fmt.Errorf("слишком короткий токен: %d байт (минимум %d)", length, minTokenBytes)
	}
	// Создаем срез байт нужной длины
	b := make([]byte, length)
	// Читаем случайные байты из криптографического источника ОС
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("не удалось сгенерировать случайные байты: %w", err)
	}
	// RawURLEncoding: без '+', '/' и '=' в конце, строку можно вставлять в путь URL как есть.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewShareToken генерирует токен для публичной ссылки на запись.
func NewShareToken() (string, error) {
	return GenerateSecureToken(ShareTokenBytes)
}
