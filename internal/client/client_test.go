package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:     srv.URL + "/v1/",
		HTTPClient:  srv.Client(),
		TokenSource: func() string { return token },
	})
}

func TestClient_Credits(t *testing.T) {
	c := newTestClient(t, "tok-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/credits", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(dto.CreditAccountDTO{
			UserID:                "user-1",
			RemainingRestorations: 3,
			IsFreeUser:            false,
			PackageType:           model.PackageStarter,
		})
	})

	acct, err := c.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, acct.RemainingRestorations)
	assert.Equal(t, model.PackageStarter, acct.PackageType)
}

func TestClient_NoTokenSendsNoAuthorization(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})

	packs, err := c.Packages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, packs)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantDetail  string
		wantPaywall bool
		wantExpired bool
	}{
		{
			name:        "paywall problem",
			status:      http.StatusPaymentRequired,
			body:        `{"title":"Payment Required","status":402,"detail":"insufficient_credits"}`,
			wantDetail:  "insufficient_credits",
			wantPaywall: true,
		},
		{
			name:        "expired upload",
			status:      http.StatusGone,
			body:        `{"title":"Gone","status":410,"detail":"upload expired"}`,
			wantDetail:  "upload expired",
			wantExpired: true,
		},
		{
			name:       "plain text body",
			status:     http.StatusBadGateway,
			body:       "upstream timeout\n",
			wantDetail: "upstream timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Restore(context.Background(), dto.RestoreRequestDTO{ImageURL: "https://cdn.example.com/a.jpg"})
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantDetail, apiErr.Detail)
			assert.Equal(t, tt.wantPaywall, IsPaywall(err))
			assert.Equal(t, tt.wantExpired, IsUploadExpired(err))
		})
	}
}

func TestClient_Restore(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in dto.RestoreRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "resume-1", in.ResumeToken)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(dto.RestoreResponseDTO{
			Restoration: dto.RestorationDTO{ID: "r-1", Status: model.RestorationProcessing},
			Credits:     dto.CreditAccountDTO{UserID: "user-1"},
			Pending:     true,
		})
	})

	out, err := c.Restore(context.Background(), dto.RestoreRequestDTO{ResumeToken: "resume-1"})
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Equal(t, "r-1", out.Restoration.ID)
}

func TestClient_Restorations_Query(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/restorations", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`[{"id":"r-1"},{"id":"r-2"}]`))
	})

	list, err := c.Restorations(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestClient_Upload(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/uploads", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "1.5", r.FormValue("aspect_ratio"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "grandma.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		assert.Equal(t, "jpegdata", string(data))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dto.UploadResponseDTO{ResumeToken: "resume-1", Filename: hdr.Filename})
	})

	out, err := c.Upload(context.Background(), UploadFile{
		Filename:    "grandma.jpg",
		ContentType: "image/jpeg",
		AspectRatio: 1.5,
		Body:        strings.NewReader("jpegdata"),
	})
	require.NoError(t, err)
	assert.Equal(t, "resume-1", out.ResumeToken)
}

func TestClient_SendWelcome_EmptyBody(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notifications/welcome", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, c.SendWelcome(context.Background(), "Ada"))
}
