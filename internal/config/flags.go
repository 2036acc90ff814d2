package config

import (
	"errors"
	"io"

	"github.com/spf13/pflag"
)

// ErrHelp возвращается Load, если запрошена справка (-h, --help).
var ErrHelp = pflag.ErrHelp

type filePaths struct {
	config  string
	envFile string
}

// preScan вытаскивает из аргументов пути к файлам конфигурации до разбора остальных флагов:
// файлы должны быть прочитаны раньше, чем флаги перекроют их значения.
func preScan(args []string) (filePaths, error) {
	p := filePaths{envFile: ".env"}

	fs := pflag.NewFlagSet("prescan", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.StringVar(&p.config, "config", p.config, "")
	fs.StringVar(&p.envFile, "env-file", p.envFile, "")

	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return p, err
	}
	return p, nil
}

// newFlagSet описывает все флаги; значения по умолчанию берутся из cfg.
func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("traveldiary", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fs.String("config", "", "путь к YAML-файлу конфигурации")
	fs.String("env-file", ".env", "путь к файлу .env")

	fs.StringVarP(&cfg.HTTP.ListenPort, "port", "p", cfg.HTTP.ListenPort, "порт HTTP-сервера")
	fs.StringVar(&cfg.HTTP.BaseURL, "base-url", cfg.HTTP.BaseURL, "внешний адрес сервиса")
	fs.Int64Var(&cfg.HTTP.MaxBodyBytes, "max-body-bytes", cfg.HTTP.MaxBodyBytes, "предельный размер тела запроса")
	fs.StringSliceVar(&cfg.HTTP.TrustedProxies, "trusted-proxies", cfg.HTTP.TrustedProxies, "доверенные прокси (через запятую)")

	fs.StringVar(&cfg.Auth.Mode, "auth-mode", cfg.Auth.Mode, "режим аутентификации: session или token")
	fs.StringVar(&cfg.Auth.CookieSecret, "cookie-secret", cfg.Auth.CookieSecret, "секрет подписи cookie сессий")
	fs.BoolVar(&cfg.Auth.SecureCookie, "secure-cookie", cfg.Auth.SecureCookie, "cookie только по HTTPS")
	fs.StringVar(&cfg.Auth.TokenSecret, "token-secret", cfg.Auth.TokenSecret, "секрет проверки токенов провайдера")
	fs.StringVar(&cfg.Auth.TokenIssuer, "token-issuer", cfg.Auth.TokenIssuer, "ожидаемый iss токенов")
	fs.StringVar(&cfg.Auth.TokenAudience, "token-audience", cfg.Auth.TokenAudience, "ожидаемый aud токенов")
	fs.BoolVar(&cfg.Auth.RequireOwnership, "require-ownership", cfg.Auth.RequireOwnership, "изменять записи может только владелец")

	fs.StringVarP(&cfg.Storage.Driver, "storage", "s", cfg.Storage.Driver, "хранилище: memory, sqlite или postgres")
	fs.StringVar(&cfg.Storage.DBPath, "db-path", cfg.Storage.DBPath, "путь к файлу SQLite")
	fs.StringVarP(&cfg.Storage.DatabaseURL, "database-url", "d", cfg.Storage.DatabaseURL, "DSN PostgreSQL")

	fs.StringVar(&cfg.Images.Store, "image-store", cfg.Images.Store, "хранилище изображений: local или s3")
	fs.StringVar(&cfg.Images.UploadPath, "upload-path", cfg.Images.UploadPath, "каталог загруженных изображений")
	fs.StringVar(&cfg.Images.S3.Bucket, "s3-bucket", cfg.Images.S3.Bucket, "бакет S3")
	fs.StringVar(&cfg.Images.S3.Endpoint, "s3-endpoint", cfg.Images.S3.Endpoint, "эндпоинт S3")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "уровень логирования")
	fs.BoolVar(&cfg.Log.Dev, "log-dev", cfg.Log.Dev, "человекочитаемый формат логов")
	fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "файл логов с ежедневной ротацией")
	return fs
}

// parseFlags накладывает на cfg флаги командной строки.
func parseFlags(cfg *Config, args []string) error {
	return newFlagSet(cfg).Parse(args)
}

// Usage возвращает справку по флагам.
func Usage() string {
	return newFlagSet(Defaults()).FlagUsages()
}
