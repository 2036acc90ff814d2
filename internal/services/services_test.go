package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"traveldiary/internal/database"
	"traveldiary/internal/models"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharingService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStorage()
	svc := NewSharingService(store, nil)

	e, err := store.CreateEntry(ctx, "u1", models.NewEntry{Caption: "Beach"})
	require.NoError(t, err)

	shared, err := svc.Share(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, shared.IsShared)
	token := *shared.ShareID
	assert.Equal(t, "/shared/"+token, svc.ShareURL(token))

	again, err := svc.Share(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, token, *again.ShareID)

	resolved, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Beach", resolved.Caption)

	unshared, err := svc.Unshare(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, unshared.IsShared)
	assert.Nil(t, unshared.ShareID)

	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, database.ErrNotFound)

	fresh, err := svc.Share(ctx, e.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, *fresh.ShareID)
}

func TestSharingService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := NewSharingService(database.NewMemStorage(), nil)

	_, err := svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.Share(ctx, 404)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = svc.Unshare(ctx, 404)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSharingService_ConcurrentShareYieldsOneToken(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStorage()
	svc := NewSharingService(store, nil)
	e, err := store.CreateEntry(ctx, "u1", models.NewEntry{})
	require.NoError(t, err)

	const n = 20
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := svc.Share(ctx, e.ID)
			if err == nil {
				tokens[i] = *got.ShareID
			}
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// testJPEGWithExif кодирует JPEG и вставляет сегмент APP1 с маркером Exif сразу после SOI.
func testJPEGWithExif(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	raw := buf.Bytes()

	payload := []byte("Exif\x00\x00GPS-SECRET-COORDINATES")
	segLen := len(payload) + 2
	app1 := append([]byte{0xFF, 0xE1, byte(segLen >> 8), byte(segLen)}, payload...)

	out := append([]byte{}, raw[:2]...)
	out = append(out, app1...)
	return append(out, raw[2:]...)
}

// withPNGDimensions переписывает ширину и высоту в чанке IHDR и пересчитывает его CRC.
// Данные пикселей остаются прежними, поэтому файл остается маленьким.
func withPNGDimensions(t *testing.T, src []byte, width, height uint32) []byte {
	t.Helper()
	out := append([]byte{}, src...)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestProcessImage(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		img, err := processImage(bytes.NewReader(testPNG(t)))
		require.NoError(t, err)
		assert.Equal(t, "png", img.format)
		assert.Equal(t, "image/png", img.contentType)
		assert.Equal(t, ".png", img.ext())
	})

	t.Run("jpeg metadata is stripped", func(t *testing.T) {
		src := testJPEGWithExif(t)
		require.True(t, bytes.Contains(src, []byte("GPS-SECRET")))

		img, err := processImage(bytes.NewReader(src))
		require.NoError(t, err)
		assert.Equal(t, ".jpg", img.ext())
		assert.False(t, bytes.Contains(img.data, []byte("GPS-SECRET")))

		_, err = jpeg.Decode(bytes.NewReader(img.data))
		assert.NoError(t, err)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := processImage(strings.NewReader("plain text, definitely not a picture"))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("oversized canvas is rejected before decoding", func(t *testing.T) {
		src := withPNGDimensions(t, testPNG(t), 12000, 12000)
		cfg, err := png.DecodeConfig(bytes.NewReader(src))
		require.NoError(t, err)
		require.Equal(t, 12000, cfg.Width)

		_, err = processImage(bytes.NewReader(src))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("truncated png", func(t *testing.T) {
		_, err := processImage(bytes.NewReader(testPNG(t)[:30]))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}

func TestLocalImageStore_Save(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalImageStore(dir, "/uploads/", nil)
	assert.Equal(t, dir, store.Dir())

	url, err := store.Save(context.Background(), bytes.NewReader(testPNG(t)))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/uploads/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"))

	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/uploads/")))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)

	other, err := store.Save(context.Background(), bytes.NewReader(testPNG(t)))
	require.NoError(t, err)
	assert.NotEqual(t, url, other)
}

func TestLocalImageStore_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalImageStore(dir, "/uploads", nil)

	_, err := store.Save(context.Background(), strings.NewReader("nope"))
	assert.ErrorIs(t, err, ErrInvalidImage)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ImageStore_Save(t *testing.T) {
	putter := &fakePutter{}
	store, err := NewS3ImageStore(putter, S3Config{
		Bucket:    "diary",
		KeyPrefix: "entries/",
		PublicURL: "https://cdn.example.com/diary/",
	}, nil)
	require.NoError(t, err)

	url, err := store.Save(context.Background(), bytes.NewReader(testPNG(t)))
	require.NoError(t, err)

	require.NotNil(t, putter.input)
	assert.Equal(t, "diary", *putter.input.Bucket)
	assert.True(t, strings.HasPrefix(*putter.input.Key, "entries/"))
	assert.True(t, strings.HasSuffix(*putter.input.Key, ".png"))
	assert.Equal(t, "image/png", *putter.input.ContentType)
	assert.Equal(t, int64(len(putter.body)), *putter.input.ContentLength)
	assert.Equal(t, "https://cdn.example.com/diary/"+*putter.input.Key, url)
}

func TestS3ImageStore_Errors(t *testing.T) {
	_, err := NewS3ImageStore(nil, S3Config{Bucket: "b", PublicURL: "u"}, nil)
	assert.Error(t, err)
	_, err = NewS3ImageStore(&fakePutter{}, S3Config{PublicURL: "u"}, nil)
	assert.Error(t, err)
	_, err = NewS3ImageStore(&fakePutter{}, S3Config{Bucket: "b"}, nil)
	assert.Error(t, err)

	boom := errors.New("bucket is on fire")
	store, err := NewS3ImageStore(&fakePutter{err: boom}, S3Config{Bucket: "b", PublicURL: "https://x"}, nil)
	require.NoError(t, err)

	_, err = store.Save(context.Background(), bytes.NewReader(testPNG(t)))
	assert.ErrorIs(t, err, boom)

	_, err = store.Save(context.Background(), strings.NewReader("nope"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Region:       "us-east-1",
		BaseEndpoint: "http://127.0.0.1:9000",
		AccessKey:    "minio",
		SecretKey:    "minio123",
		PathStyle:    true,
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
