package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"traveldiary/internal/auth"
	"traveldiary/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RouterOptions - параметры HTTP-сервера, не относящиеся к обработчикам.
type RouterOptions struct {
	MaxBodyBytes   int64
	TrustedProxies []string // nil - не доверять заголовкам прокси
	// UploadDir раздается по UploadURLPrefix. Пустое значение - статика отключена.
	UploadDir       string
	UploadURLPrefix string
}

var registerValidators sync.Once

// setupValidator настраивает валидатор gin: имена полей берутся из json-тегов,
// добавляется правило imageurl.
func setupValidator() error {
	var err error
	registerValidators.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("неожиданный валидатор gin: %T", binding.Validator.Engine())
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		err = v.RegisterValidation("imageurl", func(fl validator.FieldLevel) bool {
			return isImageURL(fl.Field().String())
		})
	})
	return err
}

// isImageURL допускает абсолютный http(s) URL, data:image/... и путь от корня сервера.
func isImageURL(s string) bool {
	switch {
	case strings.HasPrefix(s, "data:image/"):
		return true
	case strings.HasPrefix(s, "//"):
		return false
	case strings.HasPrefix(s, "/"):
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NewRouter собирает gin.Engine со всеми маршрутами API.
func NewRouter(h *Handler, gate auth.Gate, log *zap.SugaredLogger, opts RouterOptions) (*gin.Engine, error) {
	if err := setupValidator(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("ошибка установки доверенных прокси: %w", err)
	}
	// 10 << 20 = 10 Мегабайт в памяти, остальное во временные файлы.
	router.MaxMultipartMemory = 10 << 20

	router.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.SecurityHeaders(),
		middleware.BodyLimit(opts.MaxBodyBytes),
		gate.Middleware(),
	)

	// Неизвестные маршруты отвечают тем же JSON, что и остальной API.
	router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Not found")
	})

	router.GET("/healthz", h.Health)

	if opts.UploadDir != "" {
		prefix := opts.UploadURLPrefix
		if prefix == "" {
			prefix = "/uploads"
		}
		router.Static(prefix, opts.UploadDir)
	}

	api := router.Group("/api")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.POST("/logout", h.Logout)

		api.GET("/entries", h.ListEntries)
		api.POST("/entries", h.CreateEntry)
		api.GET("/entries/:id", h.GetEntry)
		api.DELETE("/entries/:id", h.DeleteEntry)
		api.POST("/entries/:id/share", h.ShareEntry)
		api.POST("/entries/:id/unshare", h.UnshareEntry)

		api.GET("/shared/", h.SharedEntry)
		api.GET("/shared/:shareId", h.SharedEntry)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthRequired(gate, log))
	{
		protected.GET("/user", h.CurrentUser)
		protected.POST("/images", h.UploadImage)
	}

	return router, nil
}
