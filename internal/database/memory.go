package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"traveldiary/internal/models"

	"github.com/google/uuid"
)

// MemStorage - хранилище в памяти процесса. Подходит для тестов и локального запуска.
// Один мьютекс сериализует все изменения: конкуренция за него низкая.
type MemStorage struct {
	mu sync.RWMutex

	users      map[string]*models.User // id -> пользователь
	usernames  map[string]string       // username -> id
	entries    map[int64]*models.Entry // id -> запись
	shareIndex map[string]int64        // shareId -> id записи (только открытые записи)
	lastID     int64                   // последний выданный ID, никогда не уменьшается

	opts options
}

var _ Storage = (*MemStorage)(nil)

// NewMemStorage создает пустое хранилище в памяти.
func NewMemStorage(opts ...Option) *MemStorage {
	return &MemStorage{
		users:      make(map[string]*models.User),
		usernames:  make(map[string]string),
		entries:    make(map[int64]*models.Entry),
		shareIndex: make(map[string]int64),
		opts:       applyOptions(opts),
	}
}

func (s *MemStorage) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[username]; taken {
		return nil, fmt.Errorf("пользователь '%s': %w", username, ErrUsernameTaken)
	}
	u := &models.User{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}
	s.users[u.ID] = u
	s.usernames[username] = u.ID

	s.opts.log.Infof("Создан пользователь: %s (ID: %s)", username, u.ID)
	c := *u
	return &c, nil
}

func (s *MemStorage) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemStorage) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s.users[id]
	return &c, nil
}

func (s *MemStorage) CreateEntry(_ context.Context, ownerID string, payload models.NewEntry) (*models.Entry, error) {
	p := payload.WithDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	e := &models.Entry{
		ID:         s.lastID,
		UserID:     ownerID,
		Caption:    p.Caption,
		ImageURL:   p.ImageURL,
		Location:   p.Location,
		ScreenInfo: *p.ScreenInfo,
		CreatedAt:  s.opts.now().UTC(),
		IsShared:   false,
		ShareID:    nil,
	}
	s.entries[e.ID] = e

	s.opts.log.Infof("Запись создана: ID=%d, UserID=%s, есть координаты=%t", e.ID, ownerID, e.Location != nil)
	return e.Clone(), nil
}

func (s *MemStorage) GetEntry(_ context.Context, id int64) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemStorage) GetEntriesByOwner(_ context.Context, ownerID string) ([]models.Entry, error) {
	s.mu.RLock()
	result := make([]models.Entry, 0)
	for _, e := range s.entries {
		if e.UserID == ownerID {
			result = append(result, *e.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(result)
	return result, nil
}

// sortNewestFirst упорядочивает записи по createdAt по убыванию, при равенстве - по id по убыванию.
func sortNewestFirst(entries []models.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}

func (s *MemStorage) DeleteEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	if e.ShareID != nil {
		delete(s.shareIndex, *e.ShareID)
	}
	delete(s.entries, id)
	s.opts.log.Infof("Запись ID=%d удалена.", id)
	return nil
}

func (s *MemStorage) UpdateEntrySharing(_ context.Context, id int64, isShared bool, shareID string) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}

	if !isShared {
		if e.ShareID != nil {
			delete(s.shareIndex, *e.ShareID)
		}
		e.IsShared = false
		e.ShareID = nil
		return e.Clone(), nil
	}

	token := shareID
	if token == "" && e.IsShared && e.ShareID != nil {
		token = *e.ShareID
	}
	if token == "" {
		generated, err := s.freshTokenLocked()
		if err != nil {
			return nil, err
		}
		token = generated
	}
	if owner, used := s.shareIndex[token]; used && owner != id {
		return nil, ErrShareTokenConflict
	}

	if e.ShareID != nil && *e.ShareID != token {
		delete(s.shareIndex, *e.ShareID)
	}
	e.IsShared = true
	e.ShareID = &token
	s.shareIndex[token] = id
	return e.Clone(), nil
}

// freshTokenLocked генерирует токен, не занятый другими записями. Вызывается под s.mu.
func (s *MemStorage) freshTokenLocked() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		token, err := s.opts.newToken()
		if err != nil {
			return "", fmt.Errorf("генерация токена: %w", err)
		}
		if _, used := s.shareIndex[token]; !used {
			return token, nil
		}
	}
	return "", ErrShareTokenConflict
}

func (s *MemStorage) GetEntryByShareToken(_ context.Context, token string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.shareIndex[token]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := s.entries[id]
	// Отозванный токен не должен открывать запись, даже если индекс почему-то не очищен.
	if !ok || !e.IsShared || e.ShareID == nil || *e.ShareID != token {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemStorage) Ping(context.Context) error { return nil }

func (s *MemStorage) Close() error { return nil }
