package database

import (
	"context"
	"errors"
	"time"

	"traveldiary/internal/models"
	"traveldiary/internal/tokens"

	"go.uber.org/zap"
)

// Ошибки-сигналы хранилища. Проверяются через errors.Is.
var (
	// ErrNotFound - запись или пользователь не найдены (или токен ссылки отозван).
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken - пользователь с таким именем уже существует.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrShareTokenConflict - переданный токен уже принадлежит другой записи.
	ErrShareTokenConflict = errors.New("share token already in use")
)

// Storage - контракт хранилища пользователей и записей дневника.
// Все операции атомарны относительно друг друга.
type Storage interface {
	// CreateUser создает пользователя. Возвращает ErrUsernameTaken, если имя занято.
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	// GetUser ищет пользователя по ID. Возвращает ErrNotFound.
	GetUser(ctx context.Context, id string) (*models.User, error)
	// GetUserByUsername ищет пользователя по имени. Возвращает ErrNotFound.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// CreateEntry создает запись; id, createdAt и значения по умолчанию назначает хранилище.
	CreateEntry(ctx context.Context, ownerID string, payload models.NewEntry) (*models.Entry, error)
	// GetEntry возвращает запись по ID без проверки владельца. Возвращает ErrNotFound.
	GetEntry(ctx context.Context, id int64) (*models.Entry, error)
	// GetEntriesByOwner возвращает записи владельца, новые первыми.
	GetEntriesByOwner(ctx context.Context, ownerID string) ([]models.Entry, error)
	// DeleteEntry удаляет запись. Удаление несуществующей записи не является ошибкой.
	DeleteEntry(ctx context.Context, id int64) error
	// UpdateEntrySharing открывает или закрывает публичный доступ к записи.
	// При isShared=true итоговый токен: переданный shareID, иначе текущий, иначе новый.
	// При isShared=false токен всегда сбрасывается. Возвращает ErrNotFound.
	UpdateEntrySharing(ctx context.Context, id int64, isShared bool, shareID string) (*models.Entry, error)
	// GetEntryByShareToken возвращает только открытую запись с таким токеном. Возвращает ErrNotFound.
	GetEntryByShareToken(ctx context.Context, token string) (*models.Entry, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close() error
}

// Option настраивает хранилище.
type Option func(*options)

type options struct {
	now      func() time.Time
	newToken func() (string, error)
	log      *zap.SugaredLogger
}

func defaultOptions() options {
	return options{
		now:      time.Now,
		newToken: tokens.NewShareToken,
		log:      zap.NewNop().Sugar(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithClock подменяет источник времени для createdAt (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTokenGenerator подменяет генератор токенов публичных ссылок.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(o *options) {
		if gen != nil {
			o.newToken = gen
		}
	}
}

// WithLogger задает логгер хранилища.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
