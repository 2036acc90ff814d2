package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc возвращает значение переменной окружения и признак того, что она задана.
type LookupFunc func(key string) (string, bool)

// withEnvFile дополняет lookup значениями из файла .env.
// Настоящие переменные окружения имеют приоритет над файлом. Отсутствующий файл не ошибка.
func withEnvFile(lookup LookupFunc, path string) (LookupFunc, error) {
	if path == "" {
		return lookup, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return lookup, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// envReader читает переменные и собирает ошибки разбора.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: ожидается булево значение, получено %q", key, v))
		return
	}
	*dst = b
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: ожидается целое число, получено %q", key, v))
		return
	}
	*dst = n
}

func (r *envReader) size(key string, dst *int64) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: ожидается целое число, получено %q", key, v))
		return
	}
	*dst = n
}

// applyEnv накладывает на cfg значения переменных окружения.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	r := &envReader{lookup: lookup}

	r.str("LISTEN_PORT", &cfg.HTTP.ListenPort)
	r.str("BASE_URL", &cfg.HTTP.BaseURL)
	r.size("MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes)
	r.list("TRUSTED_PROXIES", &cfg.HTTP.TrustedProxies)

	r.str("AUTH_MODE", &cfg.Auth.Mode)
	r.str("COOKIE_SECRET", &cfg.Auth.CookieSecret)
	r.str("COOKIE_NAME", &cfg.Auth.CookieName)
	r.integer("SESSION_MAX_AGE", &cfg.Auth.SessionMaxAge)
	r.boolean("COOKIE_SECURE", &cfg.Auth.SecureCookie)
	r.integer("BCRYPT_COST", &cfg.Auth.BcryptCost)
	r.str("TOKEN_SECRET", &cfg.Auth.TokenSecret)
	r.str("TOKEN_ISSUER", &cfg.Auth.TokenIssuer)
	r.str("TOKEN_AUDIENCE", &cfg.Auth.TokenAudience)
	r.boolean("REQUIRE_OWNERSHIP", &cfg.Auth.RequireOwnership)

	r.str("STORAGE_DRIVER", &cfg.Storage.Driver)
	r.str("DB_PATH", &cfg.Storage.DBPath)
	r.str("DATABASE_URL", &cfg.Storage.DatabaseURL)

	r.str("IMAGE_STORE", &cfg.Images.Store)
	r.str("UPLOAD_PATH", &cfg.Images.UploadPath)
	r.str("UPLOAD_URL_PREFIX", &cfg.Images.URLPrefix)
	r.size("MAX_IMAGE_BYTES", &cfg.Images.MaxImageBytes)
	r.str("S3_BUCKET", &cfg.Images.S3.Bucket)
	r.str("S3_REGION", &cfg.Images.S3.Region)
	r.str("S3_ENDPOINT", &cfg.Images.S3.Endpoint)
	r.str("S3_ACCESS_KEY", &cfg.Images.S3.AccessKey)
	r.str("S3_SECRET_KEY", &cfg.Images.S3.SecretKey)
	r.str("S3_KEY_PREFIX", &cfg.Images.S3.KeyPrefix)
	r.str("S3_PUBLIC_URL", &cfg.Images.S3.PublicURL)
	r.boolean("S3_PATH_STYLE", &cfg.Images.S3.PathStyle)

	r.str("LOG_LEVEL", &cfg.Log.Level)
	r.boolean("LOG_DEV", &cfg.Log.Dev)
	r.str("LOG_FILE", &cfg.Log.File)
	r.integer("LOG_MAX_AGE_DAYS", &cfg.Log.MaxAgeDays)

	return errors.Join(r.errs...)
}
