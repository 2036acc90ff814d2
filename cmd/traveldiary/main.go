package main

import (
	// Стандартные библиотеки
	"context"       // Контекст запуска и остановки
	"errors"        // Для errors.Is
	"fmt"           // Для форматирования ошибок
	"net/http"      // HTTP-сервер
	"os"            // Аргументы, окружение, файловая система
	"os/signal"     // Перехват сигналов остановки
	"path/filepath" // Для получения директории БД
	"strings"       // Разбор внешнего адреса
	"syscall"       // SIGTERM
	"time"          // Таймауты сервера

	// Внутренние пакеты проекта
	"traveldiary/internal/auth"     // Режимы аутентификации
	"traveldiary/internal/config"   // Загрузка конфигурации
	"traveldiary/internal/database" // Хранилище записей и пользователей
	"traveldiary/internal/handlers" // Обработчики и маршруты API
	"traveldiary/internal/logger"   // Настройка zap
	"traveldiary/internal/services" // Публичные ссылки и изображения

	// Сторонние библиотеки
	"github.com/gin-gonic/gin" // Основной веб-фреймворк Gin
	"go.uber.org/zap"          // Логирование
)

// checkOrCreateDir проверяет, что dirPath - директория, и создает ее при отсутствии.
func checkOrCreateDir(log *zap.SugaredLogger, dirPath string) error {
	if dirPath == "" {
		return errors.New("путь к директории не может быть пустым")
	}
	// Предотвращаем случайное использование корня или текущей директории
	if dirPath == "/" || dirPath == "." {
		return fmt.Errorf("указан небезопасный путь для создания директории: %s", dirPath)
	}

	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		log.Infof("Папка %s не найдена, создаем...", dirPath)
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return fmt.Errorf("не удалось создать папку %s: %w", dirPath, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка при проверке папки %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("путь %s существует, но не является директорией", dirPath)
	}
	log.Debugf("Папка %s найдена.", dirPath)
	return nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, log *zap.SugaredLogger) (database.Storage, error) {
	opts := []database.Option{database.WithLogger(log)}
	switch cfg.Driver {
	case "memory":
		log.Warn("Используется хранилище в памяти: данные пропадут при перезапуске.")
		return database.NewMemStorage(opts...), nil
	case database.DriverSQLite:
		if cfg.DBPath != ":memory:" {
			if err := checkOrCreateDir(log, filepath.Dir(cfg.DBPath)); err != nil {
				return nil, err
			}
		}
		return database.Open(ctx, database.DriverSQLite, cfg.DBPath, opts...)
	case database.DriverPostgres:
		return database.Open(ctx, database.DriverPostgres, cfg.DatabaseURL, opts...)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %q", cfg.Driver)
	}
}

// newGate создает Gate по режиму аутентификации. За HTTPS (base_url https://...) cookie всегда Secure.
func newGate(cfg config.AuthConfig, baseURL string, store database.Storage, log *zap.SugaredLogger) (auth.Gate, error) {
	if cfg.Mode == auth.ModeToken {
		return auth.NewTokenGate(auth.TokenConfig{
			Secret:   cfg.TokenSecret,
			Issuer:   cfg.TokenIssuer,
			Audience: cfg.TokenAudience,
			Leeway:   30 * time.Second,
		}, log)
	}
	return auth.NewSessionGate(store, auth.SessionConfig{
		Secret:     cfg.CookieSecret,
		CookieName: cfg.CookieName,
		MaxAge:     cfg.SessionMaxAge,
		Secure:     cfg.SecureCookie || strings.HasPrefix(baseURL, "https://"),
		BcryptCost: cfg.BcryptCost,
	}, log)
}

// newImageStore возвращает хранилище изображений и каталог для раздачи статики (пусто для S3).
func newImageStore(ctx context.Context, cfg config.ImagesConfig, log *zap.SugaredLogger) (services.ImageStore, string, error) {
	if cfg.Store == "s3" {
		s3cfg := services.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			BaseEndpoint: cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			KeyPrefix:    cfg.S3.KeyPrefix,
			PublicURL:    cfg.S3.PublicURL,
			PathStyle:    cfg.S3.PathStyle,
		}
		client, err := services.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, "", err
		}
		store, err := services.NewS3ImageStore(client, s3cfg, log)
		return store, "", err
	}

	if err := checkOrCreateDir(log, cfg.UploadPath); err != nil {
		return nil, "", err
	}
	store := services.NewLocalImageStore(cfg.UploadPath, cfg.URLPrefix, log)
	return store, store.Dir(), nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	store, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}
	defer store.Close()

	gate, err := newGate(cfg.Auth, cfg.HTTP.BaseURL, store, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации аутентификации: %w", err)
	}

	images, uploadDir, err := newImageStore(ctx, cfg.Images, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища изображений: %w", err)
	}

	h := handlers.New(handlers.Deps{
		Store:   store,
		Gate:    gate,
		Sharing: services.NewSharingService(store, log),
		Images:  images,
		Log:     log,
	}, handlers.Options{
		RequireOwnership: cfg.Auth.RequireOwnership,
		MaxImageBytes:    cfg.Images.MaxImageBytes,
	})

	if len(cfg.HTTP.TrustedProxies) == 0 {
		log.Info("Доверенные прокси не заданы: X-Forwarded-For игнорируется.")
	}
	router, err := handlers.NewRouter(h, gate, log, handlers.RouterOptions{
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		TrustedProxies:  cfg.HTTP.TrustedProxies,
		UploadDir:       uploadDir,
		UploadURLPrefix: cfg.Images.URLPrefix,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.ListenPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Сервер запускается на порту %s (режим аутентификации: %s)", cfg.HTTP.ListenPort, cfg.Auth.Mode)
		if cfg.HTTP.BaseURL != "" {
			log.Infof("Внешний адрес сервиса: %s", cfg.HTTP.BaseURL)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("не удалось запустить сервер: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Получен сигнал остановки, завершаем обработку запросов...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Сервер остановлен с ошибкой: %v", err)
	}
	log.Info("Сервер остановлен.")
	return nil
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if errors.Is(err, config.ErrHelp) {
		fmt.Fprint(os.Stdout, config.Usage())
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Некорректная конфигурация: %v\n", err)
		os.Exit(2)
	}

	zl, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Dev:        cfg.Log.Dev,
		File:       cfg.Log.File,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	if !cfg.Log.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.Mode == auth.ModeSession && cfg.UsesDefaultSecret() {
		log.Warn("ПРЕДУПРЕЖДЕНИЕ: используется секрет cookie по умолчанию. Задайте COOKIE_SECRET в продакшене.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("КРИТИЧЕСКАЯ ОШИБКА: %v", err)
		zl.Sync()
		os.Exit(1)
	}
}
