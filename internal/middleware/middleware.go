package middleware

import (
	// Стандартные библиотеки
	"errors"   // Для errors.Is
	"net/http" // Для кодов статуса HTTP
	"time"     // Для измерения длительности запроса

	// Внутренние пакеты
	"traveldiary/internal/auth" // Gate и контекст пользователя

	// Сторонние библиотеки
	"github.com/gin-gonic/gin"   // Основной фреймворк
	"github.com/segmentio/ksuid" // Идентификаторы запросов
	"go.uber.org/zap"            // Логирование
)

// RequestIDHeader - заголовок с идентификатором запроса.
const RequestIDHeader = "X-Request-ID"

// requestIDKey - ключ gin.Context для идентификатора запроса.
const requestIDKey = "requestID"

// AuthRequired пропускает запрос дальше только для аутентифицированного пользователя.
// Пользователь сохраняется в контексте и доступен через auth.UserFromContext.
func AuthRequired(gate auth.Gate, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := gate.Authenticate(c)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				log.Infof("Доступ запрещен (не аутентифицирован) к %s с IP %s", c.Request.URL.Path, c.ClientIP())
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Not authenticated"})
				return
			}
			log.Errorf("Ошибка проверки аутентификации для %s: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}

		auth.SetUser(c, user)
		c.Next()
	}
}

// RequestID назначает запросу идентификатор KSUID (или берет переданный клиентом)
// и возвращает его в заголовке ответа.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = ksuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID возвращает идентификатор текущего запроса.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger пишет в лог одну строку на каждый завершенный запрос.
// Строка запроса не логируется: в ней может оказаться токен публичной ссылки.
func RequestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", GetRequestID(c),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"size", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Errorw("http request", fields...)
		case status >= http.StatusBadRequest:
			log.Warnw("http request", fields...)
		default:
			log.Infow("http request", fields...)
		}
	}
}

// Recovery перехватывает панику в обработчике и отвечает 500 в формате JSON.
func Recovery(log *zap.SugaredLogger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		log.Errorw("Паника при обработке запроса",
			"request_id", GetRequestID(c),
			"route", c.FullPath(),
			"panic", recovered,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	})
}

// BodyLimit ограничивает размер тела запроса.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// SecurityHeaders выставляет базовые защитные заголовки.
// Referrer-Policy: no-referrer не дает адресу публичной ссылки утечь на сторонние сайты.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
