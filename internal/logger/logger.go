package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config - параметры логгера.
type Config struct {
	Level      string
	Dev        bool   // Консольный формат вместо JSON
	File       string // Дополнительно писать в файл с ежедневной ротацией
	MaxAgeDays int    // Сколько дней хранить старые файлы
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(l) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoder(dev bool) zapcore.Encoder {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// New создает логгер: stdout и, если задан cfg.File, файл с ежедневной ротацией.
// Файл всегда пишется в JSON.
func New(cfg Config) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder(cfg.Dev), zapcore.Lock(os.Stdout), lvl),
	}

	if cfg.File != "" {
		w, err := rotatingWriter(cfg.File, cfg.MaxAgeDays)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder(false), zapcore.AddSync(w), lvl))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Dev {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// rotatingWriter открывает файл логов вида name.YYYYMMDD со ссылкой name на текущий файл.
func rotatingWriter(path string, maxAgeDays int) (*rotatelogs.RotateLogs, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = 7
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога логов: %w", err)
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithMaxAge(time.Duration(maxAgeDays)*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("открытие файла логов %s: %w", path, err)
	}
	return w, nil
}
