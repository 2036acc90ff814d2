package handlers

import (
	"errors"
	"net/http"

	"traveldiary/internal/services"

	"github.com/gin-gonic/gin"
)

// UploadImage обрабатывает POST /api/images (multipart, поле "image").
// Возвращает URL, который клиент затем передает в imageUrl новой записи.
func (h *Handler) UploadImage(c *gin.Context) {
	if h.images == nil {
		respondError(c, http.StatusNotImplemented, "Image uploads are disabled")
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		respondError(c, http.StatusBadRequest, "Image file is required")
		return
	}

	if file.Size > h.maxImageBytes {
		h.log.Warnf("Отклонен файл %s: размер %d больше лимита %d", file.Filename, file.Size, h.maxImageBytes)
		respondError(c, http.StatusBadRequest, "Image is too large")
		return
	}

	src, err := file.Open()
	if err != nil {
		h.internalError(c, "открытия загруженного файла", err)
		return
	}
	defer src.Close()

	url, err := h.images.Save(c.Request.Context(), src)
	if errors.Is(err, services.ErrInvalidImage) {
		h.log.Warnf("Отклонен файл %s: %v", file.Filename, err)
		respondError(c, http.StatusBadRequest, "File is not a supported image")
		return
	}
	if err != nil {
		h.internalError(c, "сохранения изображения", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"imageUrl": url})
}
