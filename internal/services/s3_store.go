package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// S3Config - параметры объектного хранилища (AWS S3 или совместимого, например MinIO).
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string // Пусто - стандартный эндпоинт AWS
	AccessKey    string // Пусто - цепочка учетных данных AWS по умолчанию
	SecretKey    string
	KeyPrefix    string // Префикс ключей объектов, например "entries/"
	PublicURL    string // Базовый публичный URL бакета
	PathStyle    bool   // Адресация bucket в пути (нужна для MinIO)
}

// ObjectPutter - часть клиента S3, нужная хранилищу изображений.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client создает клиент S3 по конфигурации.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// S3ImageStore сохраняет изображения в бакет S3.
type S3ImageStore struct {
	client    ObjectPutter
	bucket    string
	keyPrefix string
	publicURL string
	log       *zap.SugaredLogger
}

var _ ImageStore = (*S3ImageStore)(nil)

func NewS3ImageStore(client ObjectPutter, cfg S3Config, log *zap.SugaredLogger) (*S3ImageStore, error) {
	if client == nil {
		return nil, errors.New("не задан клиент S3")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("не задан бакет S3")
	}
	if cfg.PublicURL == "" {
		return nil, errors.New("не задан публичный URL бакета S3")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &S3ImageStore{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		log:       log,
	}, nil
}

func (s *S3ImageStore) Save(ctx context.Context, r io.Reader) (string, error) {
	img, err := processImage(r)
	if err != nil {
		return "", err
	}

	key := s.keyPrefix + uuid.NewString() + img.ext()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(img.data),
		ContentLength: aws.Int64(int64(len(img.data))),
		ContentType:   aws.String(img.contentType),
	})
	if err != nil {
		return "", fmt.Errorf("загрузка объекта %s в бакет %s: %w", key, s.bucket, err)
	}

	s.log.Infof("Изображение (%s) загружено в S3: %s/%s", img.format, s.bucket, key)
	return s.publicURL + "/" + key, nil
}
