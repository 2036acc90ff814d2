package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"traveldiary/internal/tokens"

	"go.uber.org/zap"
)

// ErrInvalidImage - загруженный файл не является изображением допустимого формата.
var ErrInvalidImage = errors.New("file is not a supported image (JPEG, PNG or GIF)")

// allowedImageTypes - MIME-типы, определяемые по первым 512 байтам файла.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// maxImagePixels - предельное число пикселей (ширина * высота) декодируемого изображения.
// Размер файла этого не ограничивает: маленький PNG может объявить огромный холст.
const maxImagePixels = 40_000_000

// ImageStore сохраняет изображение записи и возвращает URL, по которому его можно получить.
type ImageStore interface {
	Save(ctx context.Context, r io.Reader) (url string, err error)
}

// processedImage - изображение, перекодированное без исходных метаданных.
type processedImage struct {
	data        []byte
	format      string // "jpeg", "png" или "gif"
	contentType string
}

func (p processedImage) ext() string {
	if p.format == "jpeg" {
		return ".jpg"
	}
	return "." + p.format
}

// processImage проверяет тип файла по содержимому, декодирует и заново кодирует изображение.
// Перекодирование отбрасывает EXIF и другие метаданные, в том числе координаты съемки.
func processImage(r io.Reader) (*processedImage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать загруженный файл: %w", err)
	}

	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	contentType := http.DetectContentType(head)
	if !allowedImageTypes[contentType] {
		return nil, fmt.Errorf("недопустимый тип файла %s: %w", contentType, ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать заголовок изображения: %v: %w", err, ErrInvalidImage)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, fmt.Errorf("недопустимые размеры изображения %dx%d: %w", cfg.Width, cfg.Height, ErrInvalidImage)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("не удалось декодировать изображение: %v: %w", err, ErrInvalidImage)
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("неизвестный формат изображения %s: %w", format, ErrInvalidImage)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось закодировать изображение: %w", err)
	}

	return &processedImage{data: buf.Bytes(), format: format, contentType: contentType}, nil
}

// LocalImageStore сохраняет изображения в каталог на диске.
// Файлы раздаются сервером по пути URLPrefix + "/" + имя файла.
type LocalImageStore struct {
	dir       string
	urlPrefix string
	log       *zap.SugaredLogger
}

var _ ImageStore = (*LocalImageStore)(nil)

func NewLocalImageStore(dir, urlPrefix string, log *zap.SugaredLogger) *LocalImageStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LocalImageStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/"), log: log}
}

// Dir возвращает каталог хранения (для раздачи статических файлов).
func (s *LocalImageStore) Dir() string { return s.dir }

func (s *LocalImageStore) Save(_ context.Context, r io.Reader) (string, error) {
	img, err := processImage(r)
	if err != nil {
		return "", err
	}

	// Имя файла случайное, расширение берется из формата, определенного декодером.
	randomName, err := tokens.GenerateSecureToken(16)
	if err != nil {
		return "", fmt.Errorf("не удалось сгенерировать имя файла: %w", err)
	}
	storedFilename := randomName + img.ext()
	filePath := filepath.Join(s.dir, storedFilename)

	if err := os.WriteFile(filePath, img.data, 0o644); err != nil {
		_ = os.Remove(filePath)
		return "", fmt.Errorf("не удалось сохранить файл на сервере (%s): %w", filePath, err)
	}

	s.log.Infof("Изображение (%s) сохранено как %s", img.format, filePath)
	return s.urlPrefix + "/" + storedFilename, nil
}
