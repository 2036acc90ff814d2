package services

import (
	"context"
	"errors"
	"fmt"

	"traveldiary/internal/database"
	"traveldiary/internal/models"

	"go.uber.org/zap"
)

// ErrMissingToken - в запросе публичной записи не передан токен.
var ErrMissingToken = errors.New("share token is required")

// SharePathPrefix - префикс публичной ссылки на запись на стороне клиента.
const SharePathPrefix = "/shared/"

// SharingService управляет публичным доступом к записям.
// Приватная запись становится открытой через Share и снова приватной через Unshare;
// после Unshare старая ссылка больше никогда не работает.
type SharingService struct {
	store database.Storage
	log   *zap.SugaredLogger
}

func NewSharingService(store database.Storage, log *zap.SugaredLogger) *SharingService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SharingService{store: store, log: log}
}

// Share открывает доступ к записи. Повторный вызов для открытой записи возвращает тот же токен.
func (s *SharingService) Share(ctx context.Context, entryID int64) (*models.Entry, error) {
	e, err := s.store.UpdateEntrySharing(ctx, entryID, true, "")
	if err != nil {
		return nil, fmt.Errorf("открытие доступа к записи %d: %w", entryID, err)
	}
	s.log.Infof("Запись ID=%d открыта по публичной ссылке.", entryID)
	return e, nil
}

// Unshare закрывает доступ к записи и отзывает токен.
func (s *SharingService) Unshare(ctx context.Context, entryID int64) (*models.Entry, error) {
	e, err := s.store.UpdateEntrySharing(ctx, entryID, false, "")
	if err != nil {
		return nil, fmt.Errorf("закрытие доступа к записи %d: %w", entryID, err)
	}
	s.log.Infof("Публичная ссылка на запись ID=%d отозвана.", entryID)
	return e, nil
}

// Resolve возвращает открытую запись по токену. Неизвестный и отозванный токены неразличимы.
func (s *SharingService) Resolve(ctx context.Context, token string) (*models.Entry, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	e, err := s.store.GetEntryByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ShareURL формирует путь публичной ссылки для токена.
func (s *SharingService) ShareURL(token string) string {
	return SharePathPrefix + token
}
