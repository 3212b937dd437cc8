// Package minio stores finished video artifacts in S3-compatible object
// storage. Each artifact occupies three keys: the video object, an optional
// thumbnail, and a JSON metadata record that carries access stats.
package minio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/config"
	"github.com/vidforge/vidforge/internal/domain"
)

// objectAPI is the slice of the MinIO client the store uses. Tests install an
// in-memory implementation.
type objectAPI interface {
	PutObject(ctx domain.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx domain.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PresignedGetObject(ctx domain.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error)
	ListObjects(ctx domain.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx domain.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx domain.Context, bucket string) (bool, error)
	MakeBucket(ctx domain.Context, bucket string, opts minio.MakeBucketOptions) error
}

// minioAPI adapts *minio.Client to objectAPI. GetObject narrows the concrete
// *minio.Object to io.ReadCloser so fakes stay trivial.
type minioAPI struct{ c *minio.Client }

func (a minioAPI) PutObject(ctx domain.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.c.PutObject(ctx, bucket, key, r, size, opts)
}

func (a minioAPI) GetObject(ctx domain.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.c.GetObject(ctx, bucket, key, opts)
}

func (a minioAPI) PresignedGetObject(ctx domain.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error) {
	return a.c.PresignedGetObject(ctx, bucket, key, expiry, params)
}

func (a minioAPI) ListObjects(ctx domain.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return a.c.ListObjects(ctx, bucket, opts)
}

func (a minioAPI) RemoveObject(ctx domain.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	return a.c.RemoveObject(ctx, bucket, key, opts)
}

func (a minioAPI) BucketExists(ctx domain.Context, bucket string) (bool, error) {
	return a.c.BucketExists(ctx, bucket)
}

func (a minioAPI) MakeBucket(ctx domain.Context, bucket string, opts minio.MakeBucketOptions) error {
	return a.c.MakeBucket(ctx, bucket, opts)
}

// Store implements domain.ArtifactStore on a single bucket.
type Store struct {
	api         objectAPI
	bucket      string
	maxFileSize int64
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx domain.Context, cfg config.Config) (*Store, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("op=minio.New: %w", err)
	}
	s := &Store{api: minioAPI{client}, bucket: cfg.MinioBucket, maxFileSize: cfg.MaxFileSizeBytes}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx domain.Context) error {
	ok, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("op=minio.ensureBucket: %w: %w", domain.ErrUnavailable, err)
	}
	if ok {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("op=minio.ensureBucket: %w", err)
	}
	slog.Info("artifact bucket created", slog.String("bucket", s.bucket))
	return nil
}

// Healthy probes the bucket, used by the readiness endpoint.
func (s *Store) Healthy(ctx domain.Context) error {
	ok, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("op=minio.healthy: %w", err)
	}
	if !ok {
		return fmt.Errorf("op=minio.healthy: bucket %s missing", s.bucket)
	}
	return nil
}

func videoKey(userID, videoID, filename string) string {
	return fmt.Sprintf("videos/%s/%s/%s", userID, videoID, filename)
}

func thumbnailKey(userID, videoID string) string {
	return fmt.Sprintf("thumbnails/%s/%s/thumbnail.jpg", userID, videoID)
}

func metadataKey(userID, videoID string) string {
	return fmt.Sprintf("metadata/%s/%s.json", userID, videoID)
}

// Upload validates and stores the video bytes, then writes the metadata
// record. The returned artifact carries the assigned id and detected content
// type.
func (s *Store) Upload(ctx domain.Context, a domain.VideoArtifact, data []byte) (domain.VideoArtifact, error) {
	if len(data) == 0 {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.Upload: %w: empty file", domain.ErrInvalidArgument)
	}
	if int64(len(data)) > s.maxFileSize {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.Upload: %w: file size %d exceeds limit %d", domain.ErrInvalidArgument, len(data), s.maxFileSize)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "video/") {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.Upload: %w: unsupported content type %s", domain.ErrInvalidArgument, mt.String())
	}
	if a.UserID == "" {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.Upload: %w: user id required", domain.ErrInvalidArgument)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Filename == "" {
		a.Filename = a.ID + mt.Extension()
	}
	a.ContentType = mt.String()
	a.SizeBytes = int64(len(data))
	a.UploadedAt = time.Now().UTC()

	key := videoKey(a.UserID, a.ID, a.Filename)
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), a.SizeBytes, minio.PutObjectOptions{ContentType: a.ContentType})
	if err != nil {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.Upload: %w: %w", domain.ErrUnavailable, err)
	}
	if err := s.putMetadata(ctx, a); err != nil {
		return domain.VideoArtifact{}, err
	}
	observability.ArtifactUploadBytes.Observe(float64(a.SizeBytes))
	slog.Info("artifact stored",
		slog.String("video_id", a.ID),
		slog.String("user_id", a.UserID),
		slog.Int64("size_bytes", a.SizeBytes))
	return a, nil
}

// UploadThumbnail stores the thumbnail image and records its key on the
// artifact metadata. Returns the object key.
func (s *Store) UploadThumbnail(ctx domain.Context, userID, videoID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("op=minio.UploadThumbnail: %w: empty thumbnail", domain.ErrInvalidArgument)
	}
	key := thumbnailKey(userID, videoID)
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("op=minio.UploadThumbnail: %w: %w", domain.ErrUnavailable, err)
	}
	a, err := s.getMetadata(ctx, userID, videoID)
	if err == nil {
		a.ThumbnailURL = key
		if err := s.putMetadata(ctx, a); err != nil {
			return "", err
		}
	}
	return key, nil
}

// Download returns the video bytes and its metadata.
func (s *Store) Download(ctx domain.Context, userID, videoID string) ([]byte, domain.VideoArtifact, error) {
	a, err := s.getMetadata(ctx, userID, videoID)
	if err != nil {
		return nil, domain.VideoArtifact{}, err
	}
	obj, err := s.api.GetObject(ctx, s.bucket, videoKey(userID, videoID, a.Filename), minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.VideoArtifact{}, fmt.Errorf("op=minio.Download: %w", mapObjectErr(err))
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, domain.VideoArtifact{}, fmt.Errorf("op=minio.Download: %w", mapObjectErr(err))
	}
	return data, a, nil
}

// SignedURL bumps the artifact access stats and presigns the video object.
func (s *Store) SignedURL(ctx domain.Context, userID, videoID string, ttl time.Duration) (string, error) {
	a, err := s.getMetadata(ctx, userID, videoID)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	a.AccessCount++
	a.LastAccessedAt = &now
	if err := s.putMetadata(ctx, a); err != nil {
		return "", err
	}
	u, err := s.api.PresignedGetObject(ctx, s.bucket, videoKey(userID, videoID, a.Filename), ttl, nil)
	if err != nil {
		return "", fmt.Errorf("op=minio.SignedURL: %w: %w", domain.ErrUnavailable, err)
	}
	return u.String(), nil
}

// List returns the user's artifacts, newest first.
func (s *Store) List(ctx domain.Context, userID string) ([]domain.VideoArtifact, error) {
	prefix := fmt.Sprintf("metadata/%s/", userID)
	arts := []domain.VideoArtifact{}
	for info := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("op=minio.List: %w: %w", domain.ErrUnavailable, info.Err)
		}
		a, err := s.readMetadataObject(ctx, info.Key)
		if err != nil {
			slog.Warn("skipping unreadable artifact metadata", slog.String("key", info.Key), slog.Any("error", err))
			continue
		}
		arts = append(arts, a)
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].UploadedAt.After(arts[j].UploadedAt) })
	return arts, nil
}

// Delete removes the video, thumbnail and metadata. Missing objects are
// tolerated so a partial earlier delete can be retried.
func (s *Store) Delete(ctx domain.Context, userID, videoID string) error {
	a, err := s.getMetadata(ctx, userID, videoID)
	if err != nil {
		return err
	}
	keys := []string{
		videoKey(userID, videoID, a.Filename),
		thumbnailKey(userID, videoID),
		metadataKey(userID, videoID),
	}
	for _, key := range keys {
		if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return fmt.Errorf("op=minio.Delete: key %s: %w", key, err)
		}
	}
	slog.Info("artifact deleted", slog.String("video_id", videoID), slog.String("user_id", userID))
	return nil
}

// Cleanup deletes artifacts older than the retention window across all users.
func (s *Store) Cleanup(ctx domain.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	deleted := 0
	for info := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: "metadata/", Recursive: true}) {
		if info.Err != nil {
			return deleted, fmt.Errorf("op=minio.Cleanup: %w: %w", domain.ErrUnavailable, info.Err)
		}
		a, err := s.readMetadataObject(ctx, info.Key)
		if err != nil {
			continue
		}
		if !a.UploadedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, a.UserID, a.ID); err != nil {
			slog.Warn("artifact cleanup failed", slog.String("video_id", a.ID), slog.Any("error", err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) putMetadata(ctx domain.Context, a domain.VideoArtifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("op=minio.putMetadata: %w", err)
	}
	_, err = s.api.PutObject(ctx, s.bucket, metadataKey(a.UserID, a.ID), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("op=minio.putMetadata: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) getMetadata(ctx domain.Context, userID, videoID string) (domain.VideoArtifact, error) {
	return s.readMetadataObject(ctx, metadataKey(userID, videoID))
}

func (s *Store) readMetadataObject(ctx domain.Context, key string) (domain.VideoArtifact, error) {
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.readMetadata: %w", mapObjectErr(err))
	}
	defer func() { _ = obj.Close() }()
	b, err := io.ReadAll(obj)
	if err != nil {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.readMetadata: %w", mapObjectErr(err))
	}
	var a domain.VideoArtifact
	if err := json.Unmarshal(b, &a); err != nil {
		return domain.VideoArtifact{}, fmt.Errorf("op=minio.readMetadata: %w", err)
	}
	return a, nil
}

// mapObjectErr translates MinIO's missing-object responses to the domain
// sentinel. GetObject defers I/O, so the miss often surfaces at read time.
func mapObjectErr(err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("artifact not found: %w", domain.ErrNotFound)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}

func isNoSuchKey(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
