// Package config собирает конфигурацию сервиса из значений по умолчанию,
// необязательного YAML-файла, файла .env, переменных окружения и флагов командной строки.
// Каждый следующий источник перекрывает предыдущий.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultCookieSecret - секрет по умолчанию. Годится только для локального запуска.
const DefaultCookieSecret = "fallback-secret-change-in-production"

// Config - полная конфигурация сервиса.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Images  ImagesConfig  `yaml:"images"`
	Log     LogConfig     `yaml:"log"`
}

// HTTPConfig - параметры HTTP-сервера.
type HTTPConfig struct {
	ListenPort     string   `yaml:"listen_port"`
	BaseURL        string   `yaml:"base_url"`        // Внешний адрес сервиса; https:// включает Secure для cookie
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`  // Предельный размер тела запроса
	TrustedProxies []string `yaml:"trusted_proxies"` // Пусто - заголовкам прокси не доверяем
}

// AuthConfig - параметры аутентификации.
type AuthConfig struct {
	Mode             string `yaml:"mode"` // "session" или "token"
	CookieSecret     string `yaml:"cookie_secret"`
	CookieName       string `yaml:"cookie_name"`
	SessionMaxAge    int    `yaml:"session_max_age"` // Секунды
	SecureCookie     bool   `yaml:"secure_cookie"`
	BcryptCost       int    `yaml:"bcrypt_cost"`
	TokenSecret      string `yaml:"token_secret"`
	TokenIssuer      string `yaml:"token_issuer"`
	TokenAudience    string `yaml:"token_audience"`
	RequireOwnership bool   `yaml:"require_ownership"`
}

// StorageConfig - параметры хранилища записей.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // "memory", "sqlite" или "postgres"
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`
}

// ImagesConfig - параметры хранения загруженных изображений.
type ImagesConfig struct {
	Store         string   `yaml:"store"` // "local" или "s3"
	UploadPath    string   `yaml:"upload_path"`
	URLPrefix     string   `yaml:"url_prefix"`
	MaxImageBytes int64    `yaml:"max_image_bytes"`
	S3            S3Config `yaml:"s3"`
}

// S3Config - параметры бакета для хранилища изображений "s3".
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	KeyPrefix string `yaml:"key_prefix"`
	PublicURL string `yaml:"public_url"`
	PathStyle bool   `yaml:"path_style"`
}

// LogConfig - параметры логирования.
type LogConfig struct {
	Level      string `yaml:"level"`
	Dev        bool   `yaml:"dev"`
	File       string `yaml:"file"` // Пусто - только stdout
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Defaults возвращает конфигурацию по умолчанию.
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenPort:   "8080",
			MaxBodyBytes: 50 << 20, // 50 МБ: изображения могут приходить data:-ссылками
		},
		Auth: AuthConfig{
			Mode:             "session",
			CookieSecret:     DefaultCookieSecret,
			CookieName:       "traveldiary_session",
			SessionMaxAge:    86400,
			RequireOwnership: true,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DBPath: "/app/data/service.db",
		},
		Images: ImagesConfig{
			Store:         "local",
			UploadPath:    "/app/uploads",
			URLPrefix:     "/uploads",
			MaxImageBytes: 10 << 20,
			S3:            S3Config{Region: "us-east-1", KeyPrefix: "entries/"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxAgeDays: 7,
		},
	}
}

// LoadFile накладывает на cfg значения из YAML-файла.
// Поля, отсутствующие в файле, сохраняют прежние значения.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("чтение файла конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("разбор файла конфигурации %s: %w", path, err)
	}
	return nil
}

// Load собирает конфигурацию: значения по умолчанию, YAML-файл (--config или TRAVELDIARY_CONFIG),
// .env (--env-file), переменные окружения, затем флаги args.
// lookup - источник переменных окружения, обычно os.LookupEnv.
func Load(args []string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	paths, err := preScan(args)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()

	configPath := paths.config
	if configPath == "" {
		configPath, _ = lookup("TRAVELDIARY_CONFIG")
	}
	if configPath != "" {
		if err := LoadFile(cfg, configPath); err != nil {
			return nil, err
		}
	}

	env, err := withEnvFile(lookup, paths.envFile)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UsesDefaultSecret сообщает, что cookie подписываются секретом по умолчанию.
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.Mode == "session" && c.Auth.CookieSecret == DefaultCookieSecret
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.ListenPort == "" {
		errs = append(errs, errors.New("http.listen_port не задан"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes должен быть положительным"))
	}

	switch c.Auth.Mode {
	case "session":
		if c.Auth.CookieSecret == "" {
			errs = append(errs, errors.New("auth.cookie_secret обязателен в режиме session"))
		}
	case "token":
		if c.Auth.TokenSecret == "" {
			errs = append(errs, errors.New("auth.token_secret обязателен в режиме token"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный auth.mode: %q", c.Auth.Mode))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.DBPath == "" {
			errs = append(errs, errors.New("storage.db_path обязателен для sqlite"))
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url обязателен для postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный storage.driver: %q", c.Storage.Driver))
	}

	if c.Images.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("images.max_image_bytes должен быть положительным"))
	}
	switch c.Images.Store {
	case "local":
		if c.Images.UploadPath == "" {
			errs = append(errs, errors.New("images.upload_path обязателен для local"))
		}
	case "s3":
		if c.Images.S3.Bucket == "" || c.Images.S3.PublicURL == "" {
			errs = append(errs, errors.New("images.s3.bucket и images.s3.public_url обязательны для s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный images.store: %q", c.Images.Store))
	}

	return errors.Join(errs...)
}
