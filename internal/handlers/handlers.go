package handlers

import (
	// Стандартные библиотеки
	"errors"   // Для errors.Is / errors.As
	"net/http" // Для кодов статуса HTTP
	"strconv"  // Для разбора ID записи из пути
	"strings"  // Для очистки входных строк

	// Внутренние пакеты
	"traveldiary/internal/auth"     // Gate и пользователь из контекста
	"traveldiary/internal/database" // Хранилище и его ошибки
	"traveldiary/internal/services" // Публичные ссылки и изображения

	// Сторонние библиотеки
	"github.com/gin-gonic/gin" // Основной фреймворк
	"go.uber.org/zap"          // Логирование
)

// Сообщения об ошибках, которые видит клиент.
const (
	msgInternal         = "Internal server error"
	msgNotAuthenticated = "Not authenticated"
	msgEntryNotFound    = "Entry not found"
	msgInvalidEntryID   = "Invalid entry ID"
	msgBodyTooLarge     = "Request body too large"
)

// Handler - обработчики HTTP API. Все зависимости передаются через New.
type Handler struct {
	store   database.Storage
	gate    auth.Gate
	sharing *services.SharingService
	images  services.ImageStore
	log     *zap.SugaredLogger

	requireOwnership bool
	maxImageBytes    int64
}

// Deps - зависимости обработчиков.
type Deps struct {
	Store   database.Storage
	Gate    auth.Gate
	Sharing *services.SharingService
	Images  services.ImageStore // nil - загрузка изображений отключена
	Log     *zap.SugaredLogger
}

// Options - поведение обработчиков.
type Options struct {
	// RequireOwnership: создавать записи можно только от своего имени,
	// удалять и открывать доступ - только к своим записям.
	RequireOwnership bool
	MaxImageBytes    int64
}

func New(deps Deps, opts Options) *Handler {
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sharing := deps.Sharing
	if sharing == nil {
		sharing = services.NewSharingService(deps.Store, log)
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	return &Handler{
		store:            deps.Store,
		gate:             deps.Gate,
		sharing:          sharing,
		images:           deps.Images,
		log:              log,
		requireOwnership: opts.RequireOwnership,
		maxImageBytes:    opts.MaxImageBytes,
	}
}

// --- Общие помощники ---

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// internalError логирует подробности и отвечает клиенту без них.
func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Errorf("Ошибка %s (%s %s): %v", op, c.Request.Method, c.FullPath(), err)
	respondError(c, http.StatusInternalServerError, msgInternal)
}

// isBodyTooLarge распознает превышение лимита http.MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// entryID разбирает :id. При ошибке ответ уже отправлен.
func entryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, msgInvalidEntryID)
		return 0, false
	}
	return id, true
}

// --- Аутентификация ---

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// bindCredentials читает имя и пароль. Имя обрезается по краям, пароль используется как есть.
func bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return req, false
		}
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "Username and password are required")
		return req, false
	}
	return req, true
}

// Register обрабатывает POST /api/register.
func (h *Handler) Register(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	user, err := h.gate.Register(c, req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, user)
	case errors.Is(err, database.ErrUsernameTaken):
		respondError(c, http.StatusBadRequest, "Username already exists")
	case errors.Is(err, auth.ErrDelegated):
		respondError(c, http.StatusNotImplemented, "Registration is handled by the identity provider")
	default:
		h.internalError(c, "регистрации", err)
	}
}

// Login обрабатывает POST /api/login.
func (h *Handler) Login(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	user, err := h.gate.Login(c, req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, user)
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, auth.ErrDelegated):
		respondError(c, http.StatusNotImplemented, "Login is handled by the identity provider")
	default:
		h.internalError(c, "входа", err)
	}
}

// Logout обрабатывает POST /api/logout. Всегда отвечает 200.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.gate.Logout(c); err != nil {
		h.log.Errorf("Ошибка завершения сессии: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// CurrentUser обрабатывает GET /api/user. Вызывается после middleware.AuthRequired.
func (h *Handler) CurrentUser(c *gin.Context) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, msgNotAuthenticated)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Health обрабатывает GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.log.Warnf("Проверка хранилища не прошла: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
