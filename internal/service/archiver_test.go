package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"photorestore/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestArchiver_Archive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	store := newMemStore()
	a := NewArchiver(store, srv.Client(), logger.Nop()).(*archiver)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	out, err := a.Archive(context.Background(), srv.URL+"/pbxt/out")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^restored-1700000000000-[0-9a-f]{12}\.png$`), out.Filename)
	assert.Equal(t, out.Filename, out.Key)
	assert.Equal(t, "https://bucket.example.com/"+out.Filename, out.DurableURL)
	assert.Equal(t, pngHeader, store.objects[out.Key])
	assert.Equal(t, "image/png", store.opts[out.Key].ContentType)
	assert.Equal(t, `attachment; filename="`+out.Filename+`"`, store.opts[out.Key].ContentDisposition)
}

func TestArchiver_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	store := newMemStore()
	_, err := NewArchiver(store, srv.Client(), logger.Nop()).Archive(context.Background(), srv.URL+"/x.png")

	var aErr *ArchiveError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, "download", aErr.Stage)
	assert.Empty(t, store.objects)
}

func TestArchiver_UploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	store := newMemStore()
	store.putErr = errors.New("access denied")
	_, err := NewArchiver(store, srv.Client(), logger.Nop()).Archive(context.Background(), srv.URL+"/x")

	var aErr *ArchiveError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, "upload", aErr.Stage)
}

func TestArchiver_InvalidURL(t *testing.T) {
	_, err := NewArchiver(newMemStore(), nil, logger.Nop()).Archive(context.Background(), "not a url")
	var aErr *ArchiveError
	assert.ErrorAs(t, err, &aErr)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "jpg", extensionFor("image/jpeg", "/a"))
	assert.Equal(t, "webp", extensionFor("image/webp; charset=binary", "/a"))
	assert.Equal(t, "tiff", extensionFor("", "/out.TIFF"))
	assert.Equal(t, "png", extensionFor("", "/out"))
}
