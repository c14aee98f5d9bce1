package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"photorestore/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxArchiveBytes caps the download of a provider result.
const maxArchiveBytes = 50 << 20

// ArchiveError wraps any failure while copying a result into the bucket.
type ArchiveError struct {
	Stage string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Stage, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// Archived is the durable copy of a restoration result.
type Archived struct {
	DurableURL string
	Filename   string
	Key        string
}

// Archiver copies short-lived provider URLs into long-lived storage.
type Archiver interface {
	Archive(ctx context.Context, resultURL string) (*Archived, error)
}

type archiver struct {
	store      storage.ObjectStore
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

func NewArchiver(store storage.ObjectStore, httpClient *http.Client, logger zerolog.Logger) Archiver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &archiver{
		store:      store,
		httpClient: httpClient,
		logger:     logger.With().Str("service", "Archiver").Logger(),
		now:        time.Now,
	}
}

func (a *archiver) Archive(ctx context.Context, resultURL string) (*Archived, error) {
	parsed, err := url.Parse(strings.TrimSpace(resultURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ArchiveError{Stage: "download", Err: fmt.Errorf("invalid result url %q", resultURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, &ArchiveError{Stage: "download", Err: err}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &ArchiveError{Stage: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &ArchiveError{Stage: "download", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return nil, &ArchiveError{Stage: "download", Err: err}
	}
	if len(data) == 0 {
		return nil, &ArchiveError{Stage: "download", Err: fmt.Errorf("empty body")}
	}
	if len(data) > maxArchiveBytes {
		return nil, &ArchiveError{Stage: "download", Err: fmt.Errorf("result larger than %d bytes", maxArchiveBytes)}
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || !strings.HasPrefix(mt, "image/") {
		contentType = http.DetectContentType(data)
	}
	filename := a.filename(extensionFor(contentType, parsed.Path))

	err = a.store.Put(ctx, filename, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, filename),
	})
	if err != nil {
		return nil, &ArchiveError{Stage: "upload", Err: err}
	}

	out := &Archived{DurableURL: a.store.PublicURL(filename), Filename: filename, Key: filename}
	a.logger.Info().Str("filename", filename).Int("bytes", len(data)).Msg("Restoration archived")
	return out, nil
}

func (a *archiver) filename(ext string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("restored-%d-%s.%s", a.now().UnixMilli(), random, ext)
}

func extensionFor(contentType, urlPath string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(urlPath)), "."); ext != "" && len(ext) <= 5 {
		return ext
	}
	return "png"
}
