package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"photorestore/internal/client"
	"photorestore/internal/flow"
	"photorestore/internal/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// logNotifier prints toasts and progress to the log.
type logNotifier struct {
	logger zerolog.Logger
}

func (n logNotifier) Toast(t flow.Toast) {
	ev := n.logger.Info()
	if t.Level == flow.ToastDestructive {
		ev = n.logger.Warn()
	}
	ev.Str("level", string(t.Level)).Str("description", t.Description).Msg(t.Title)
}

func (n logNotifier) Progress(percent int) {
	n.logger.Debug().Int("percent", percent).Msg("Progress")
}

func main() {
	apiURL := flag.String("api", "", "API base URL including /v1 (default $API_BASE_URL)")
	token := flag.String("token", "", "Session access token (default $ACCESS_TOKEN)")
	file := flag.String("file", "", "Photo to restore")
	out := flag.String("out", "", "Where to save the restored photo (optional)")
	flag.Parse()

	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("No .env file found")
	}
	if *apiURL == "" {
		*apiURL = os.Getenv("API_BASE_URL")
	}
	if *token == "" {
		*token = os.Getenv("ACCESS_TOKEN")
	}
	if *apiURL == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *apiURL, *token, *file, *out, logger); err != nil {
		logger.Fatal().Err(err).Msg("Restoration did not finish")
	}
}

func run(ctx context.Context, apiURL, token, path, out string, logger zerolog.Logger) error {
	auth := flow.NewMemoryAuthStore()
	api := client.New(client.Options{
		BaseURL:     apiURL,
		TokenSource: auth.Token,
		Logger:      &logger,
	})
	f := flow.New(ctx, api, auth, logNotifier{logger: logger}, flow.Options{}, logger)
	defer f.Close()

	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	aspect := 0.0
	if cfg, _, err := image.DecodeConfig(fh); err == nil && cfg.Height > 0 {
		aspect = float64(cfg.Width) / float64(cfg.Height)
	}
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if err := f.SelectFile(ctx, filepath.Base(path), contentType, info.Size(), aspect, fh); err != nil {
		return err
	}

	if token != "" {
		auth.SetSession(&flow.Session{AccessToken: token})
	}
	if err := f.Restore(ctx); err != nil {
		return err
	}

	switch f.State() {
	case flow.StateCompleted:
	case flow.StateAuthGate:
		return fmt.Errorf("sign in first: pass -token or set ACCESS_TOKEN")
	case flow.StatePaywall:
		return fmt.Errorf("no credits left")
	case flow.StateFailed:
		return f.Err()
	default:
		return fmt.Errorf("restoration ended in state %s", f.State())
	}

	up := f.Upload()
	logger.Info().
		Str("restoration_id", up.RestorationID).
		Str("url", up.ProcessedURL).
		Bool("watermark_removed", up.WatermarkRemoved).
		Msg("Restored")

	if out == "" {
		return nil
	}
	dl, err := f.Download(ctx)
	if err != nil {
		return err
	}
	return save(ctx, dl.URL, out)
}

func save(ctx context.Context, url, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
