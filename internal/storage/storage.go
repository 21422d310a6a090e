package storage

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
)

const MaxAttachmentSize = 10 << 20

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	PublicURL string
}

// Storage keeps message attachments in an S3-compatible bucket.
type Storage struct {
	cfg    Config
	client *minio.Client
}

// New returns nil when no endpoint is configured; uploads then fail validation.
func New(cfg Config) (*Storage, error) {
	if cfg.Endpoint == "" {
		log.Warn().Msg("attachment storage disabled: empty minio endpoint")
		return nil, nil
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://" + endpoint + "/" + cfg.Bucket
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Storage{cfg: cfg, client: cl}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload stores one multipart file and returns the attachment metadata to persist.
func (s *Storage) Upload(ctx context.Context, fh *multipart.FileHeader) (models.Attachment, error) {
	if s == nil {
		return models.Attachment{}, apperr.Validation("attachments are not enabled")
	}
	if fh.Size > MaxAttachmentSize {
		return models.Attachment{}, apperr.Validation("attachment %q exceeds %d bytes", fh.Filename, MaxAttachmentSize)
	}

	f, err := fh.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, _ := f.Read(head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, 0); err != nil {
			return models.Attachment{}, fmt.Errorf("rewind upload: %w", err)
		}
	}

	key := ObjectKey(fh.Filename)
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, key, f, fh.Size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return models.Attachment{}, fmt.Errorf("put object: %w", err)
	}
	return models.Attachment{
		URL:      s.cfg.PublicURL + "/" + key,
		FileName: path.Base(fh.Filename),
		MimeType: contentType,
		Size:     fh.Size,
	}, nil
}

// Remove deletes an uploaded object, used to clean up after a failed send.
func (s *Storage) Remove(ctx context.Context, url string) error {
	if s == nil {
		return nil
	}
	key := strings.TrimPrefix(url, s.cfg.PublicURL+"/")
	return s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
}

// ObjectKey builds a collision-free key that keeps the original extension.
func ObjectKey(filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return "messages/" + uuid.NewString() + ext
}
