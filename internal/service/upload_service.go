package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"photorestore/internal/model"
	"photorestore/internal/storage"
	"photorestore/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUploadExpired is returned when a resume token is invalid, expired, or
// points at an object that no longer exists.
var ErrUploadExpired = errors.New("upload expired, please upload the photo again")

const pendingPrefix = "pending/"

// UploadClaims is the payload of a resume token.
type UploadClaims struct {
	Key         string  `json:"key"`
	URL         string  `json:"url"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	AspectRatio float64 `json:"aspect_ratio,omitempty"`
	jwt.RegisteredClaims
}

type UploadRequest struct {
	Filename    string
	ContentType string
	Size        int64
	AspectRatio float64
	Body        io.Reader
}

type UploadService interface {
	// Stage stores a pending upload and returns its resume token. It does not
	// need a signed-in user.
	Stage(ctx context.Context, req UploadRequest) (*model.UploadIntent, error)
	// Resolve verifies a resume token and checks the object is still stored.
	Resolve(ctx context.Context, token string) (*model.UploadIntent, error)
}

type UploadOptions struct {
	SigningKey string
	TTL        time.Duration
	MaxBytes   int64
}

type uploadService struct {
	store  storage.ObjectStore
	opts   UploadOptions
	logger zerolog.Logger
	now    func() time.Time
}

func NewUploadService(store storage.ObjectStore, opts UploadOptions, logger zerolog.Logger) UploadService {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = model.MaxUploadBytes
	}
	return &uploadService{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("service", "UploadService").Logger(),
		now:    time.Now,
	}
}

func (s *uploadService) Stage(ctx context.Context, req UploadRequest) (*model.UploadIntent, error) {
	if err := model.ValidateImageUpload(req.ContentType, req.Size, s.opts.MaxBytes); err != nil {
		return nil, err
	}
	filename := path.Base(strings.TrimSpace(req.Filename))
	if filename == "." || filename == "/" {
		filename = "photo"
	}

	key := pendingPrefix + uuid.NewString() + strings.ToLower(path.Ext(filename))
	body := io.LimitReader(req.Body, req.Size)
	if err := s.store.Put(ctx, key, body, req.Size, storage.PutOptions{ContentType: req.ContentType}); err != nil {
		return nil, fmt.Errorf("store pending upload: %w", err)
	}

	now := s.now()
	exp := now.Add(s.opts.TTL)
	intent := &model.UploadIntent{
		Key:         key,
		URL:         s.store.PublicURL(key),
		Filename:    filename,
		ContentType: req.ContentType,
		Size:        req.Size,
		AspectRatio: req.AspectRatio,
		ExpiresAt:   exp.Unix(),
	}
	claims := &UploadClaims{
		Key:         intent.Key,
		URL:         intent.URL,
		Filename:    intent.Filename,
		ContentType: intent.ContentType,
		Size:        intent.Size,
		AspectRatio: intent.AspectRatio,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.SigningKey))
	if err != nil {
		return nil, fmt.Errorf("sign resume token: %w", err)
	}
	intent.Token = token

	s.logger.Info().Str("key", key).Int64("bytes", req.Size).Msg("Pending upload stored")
	return intent, nil
}

func (s *uploadService) Resolve(ctx context.Context, token string) (*model.UploadIntent, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUploadExpired
	}
	claims := &UploadClaims{}
	if err := util.ParseWithClaims(token, s.opts.SigningKey, claims); err != nil {
		s.logger.Debug().Err(err).Msg("Resume token rejected")
		return nil, ErrUploadExpired
	}
	if !strings.HasPrefix(claims.Key, pendingPrefix) {
		return nil, ErrUploadExpired
	}
	ok, err := s.store.Exists(ctx, claims.Key)
	if err != nil {
		return nil, fmt.Errorf("check pending upload: %w", err)
	}
	if !ok {
		return nil, ErrUploadExpired
	}

	intent := &model.UploadIntent{
		Token:       token,
		Key:         claims.Key,
		URL:         claims.URL,
		Filename:    claims.Filename,
		ContentType: claims.ContentType,
		Size:        claims.Size,
		AspectRatio: claims.AspectRatio,
	}
	if claims.ExpiresAt != nil {
		intent.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return intent, nil
}
