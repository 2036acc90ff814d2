package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"traveldiary/internal/auth"
	"traveldiary/internal/database"
	"traveldiary/internal/models"
	"traveldiary/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type locationRequest struct {
	Lat *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
}

// screenInfoRequest принимает любые неотрицательные числа; дробные размеры округляются.
type screenInfoRequest struct {
	Width       float64 `json:"width" binding:"gte=0,lte=1000000"`
	Height      float64 `json:"height" binding:"gte=0,lte=1000000"`
	Orientation string  `json:"orientation" binding:"max=32"`
}

// createEntryRequest - тело POST /api/entries.
// captionText - устаревшее имя подписи; если задано, оно важнее caption.
type createEntryRequest struct {
	UserID      string             `json:"userId" binding:"max=128"`
	Caption     string             `json:"caption" binding:"max=2000"`
	CaptionText string             `json:"captionText" binding:"max=2000"`
	ImageURL    string             `json:"imageUrl" binding:"omitempty,imageurl"`
	Location    *locationRequest   `json:"location"`
	ScreenInfo  *screenInfoRequest `json:"screenInfo"`
}

func (r createEntryRequest) toNewEntry() models.NewEntry {
	n := models.NewEntry{
		Caption:  strings.TrimSpace(r.Caption),
		ImageURL: strings.TrimSpace(r.ImageURL),
	}
	if text := strings.TrimSpace(r.CaptionText); text != "" {
		n.Caption = text
	}
	if r.Location != nil {
		n.Location = &models.Location{Lat: *r.Location.Lat, Lng: *r.Location.Lng}
	}
	if r.ScreenInfo != nil {
		si := models.ScreenInfo{
			Width:       int(math.Round(r.ScreenInfo.Width)),
			Height:      int(math.Round(r.ScreenInfo.Height)),
			Orientation: r.ScreenInfo.Orientation,
		}
		if si.Orientation == "" {
			si.Orientation = models.UnknownOrientation
		}
		n.ScreenInfo = &si
	}
	return n
}

// fieldError - описание одной ошибки валидации в ответе клиенту.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// validationDetails всегда возвращает массив (возможно пустой), чтобы клиент не получал null.
func validationDetails(err error) []fieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return []fieldError{{Field: typeErr.Field, Rule: "type"}}
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{}
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		// Первый сегмент - имя Go-структуры запроса, клиенту он не нужен.
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, fieldError{Field: field, Rule: fe.Tag()})
	}
	return out
}

// authorize возвращает пользователя, если требуется проверка владельца.
// При requireOwnership=false возвращает nil без обращения к Gate. При ошибке ответ уже отправлен.
func (h *Handler) authorize(c *gin.Context) (*models.User, bool) {
	if !h.requireOwnership {
		return nil, true
	}
	user, err := h.gate.Authenticate(c)
	if errors.Is(err, auth.ErrUnauthenticated) {
		respondError(c, http.StatusUnauthorized, msgNotAuthenticated)
		return nil, false
	}
	if err != nil {
		h.internalError(c, "проверки аутентификации", err)
		return nil, false
	}
	return user, true
}

// ownedEntry загружает запись по :id и проверяет владельца.
// Чужая запись неотличима от несуществующей. При ошибке ответ уже отправлен.
func (h *Handler) ownedEntry(c *gin.Context) (*models.Entry, bool) {
	id, ok := entryID(c)
	if !ok {
		return nil, false
	}
	user, ok := h.authorize(c)
	if !ok {
		return nil, false
	}

	entry, err := h.store.GetEntry(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgEntryNotFound)
		return nil, false
	}
	if err != nil {
		h.internalError(c, "получения записи", err)
		return nil, false
	}

	if user != nil && entry.UserID != user.ID {
		h.log.Warnf("Пользователь %s пытался изменить чужую запись ID=%d", user.ID, id)
		respondError(c, http.StatusNotFound, msgEntryNotFound)
		return nil, false
	}
	return entry, true
}

// ListEntries обрабатывает GET /api/entries?userId=ID.
func (h *Handler) ListEntries(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		respondError(c, http.StatusBadRequest, "User ID is required")
		return
	}

	entries, err := h.store.GetEntriesByOwner(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "получения записей", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetEntry обрабатывает GET /api/entries/:id.
func (h *Handler) GetEntry(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}

	entry, err := h.store.GetEntry(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgEntryNotFound)
		return
	}
	if err != nil {
		h.internalError(c, "получения записи", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// CreateEntry обрабатывает POST /api/entries.
func (h *Handler) CreateEntry(c *gin.Context) {
	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": "Invalid entry data",
			"errors":  validationDetails(err),
		})
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		respondError(c, http.StatusBadRequest, "User ID is required")
		return
	}

	user, ok := h.authorize(c)
	if !ok {
		return
	}
	if user != nil && user.ID != req.UserID {
		h.log.Warnf("Пользователь %s пытался создать запись от имени %s", user.ID, req.UserID)
		respondError(c, http.StatusForbidden, "Cannot create entries for another user")
		return
	}

	entry, err := h.store.CreateEntry(c.Request.Context(), req.UserID, req.toNewEntry())
	if err != nil {
		h.internalError(c, "создания записи", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// DeleteEntry обрабатывает DELETE /api/entries/:id.
// Хранилище удаляет идемпотентно, но API отвечает 404 для отсутствующей записи.
func (h *Handler) DeleteEntry(c *gin.Context) {
	entry, ok := h.ownedEntry(c)
	if !ok {
		return
	}
	if err := h.store.DeleteEntry(c.Request.Context(), entry.ID); err != nil {
		h.internalError(c, "удаления записи", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Entry deleted successfully"})
}

// ShareEntry обрабатывает POST /api/entries/:id/share.
func (h *Handler) ShareEntry(c *gin.Context) {
	entry, ok := h.ownedEntry(c)
	if !ok {
		return
	}

	shared, err := h.sharing.Share(c.Request.Context(), entry.ID)
	if errors.Is(err, database.ErrNotFound) {
		// Запись удалена между проверкой и обновлением.
		respondError(c, http.StatusNotFound, msgEntryNotFound)
		return
	}
	if err != nil {
		h.internalError(c, "открытия доступа", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Entry shared successfully",
		"shareId":  *shared.ShareID,
		"shareUrl": h.sharing.ShareURL(*shared.ShareID),
	})
}

// UnshareEntry обрабатывает POST /api/entries/:id/unshare.
func (h *Handler) UnshareEntry(c *gin.Context) {
	entry, ok := h.ownedEntry(c)
	if !ok {
		return
	}

	_, err := h.sharing.Unshare(c.Request.Context(), entry.ID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgEntryNotFound)
		return
	}
	if err != nil {
		h.internalError(c, "закрытия доступа", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Entry is no longer shared"})
}

// SharedEntry обрабатывает GET /api/shared/:shareId. Аутентификация не нужна: ссылка сама дает доступ.
func (h *Handler) SharedEntry(c *gin.Context) {
	token := strings.TrimSpace(c.Param("shareId"))

	entry, err := h.sharing.Resolve(c.Request.Context(), token)
	switch {
	case err == nil:
		// Публичную страницу не кешируем: после отзыва ссылки запись должна сразу пропасть.
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, entry)
	case errors.Is(err, services.ErrMissingToken):
		respondError(c, http.StatusBadRequest, "Share ID is required")
	case errors.Is(err, database.ErrNotFound):
		respondError(c, http.StatusNotFound, "Shared entry not found or no longer shared")
	default:
		h.internalError(c, "получения публичной записи", err)
	}
}
