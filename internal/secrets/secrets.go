// Package secrets fills provider credentials from Google Secret Manager.
package secrets

import (
	"context"
	"fmt"

	"photorestore/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Accessor reads the latest version of a secret by resource name.
type Accessor interface {
	Access(ctx context.Context, name string) ([]byte, error)
	Close() error
}

type managerAccessor struct {
	client *secretmanager.Client
}

// NewManagerAccessor connects to Secret Manager with application default credentials.
func NewManagerAccessor(ctx context.Context) (Accessor, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &managerAccessor{client: client}, nil
}

func (a *managerAccessor) Access(ctx context.Context, name string) ([]byte, error) {
	resp, err := a.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return resp.GetPayload().GetData(), nil
}

func (a *managerAccessor) Close() error { return a.client.Close() }

// binding maps a secret id to the config field it fills.
type binding struct {
	id    string
	field func(*config.Config) *string
}

var bindings = []binding{
	{"replicate-api-token", func(c *config.Config) *string { return &c.ReplicateAPIToken }},
	{"stripe-secret-key", func(c *config.Config) *string { return &c.StripeSecretKey }},
	{"stripe-webhook-secret", func(c *config.Config) *string { return &c.StripeWebhookSecret }},
	{"brevo-api-key", func(c *config.Config) *string { return &c.BrevoAPIKey }},
	{"s3-secret-key", func(c *config.Config) *string { return &c.S3SecretKey }},
	{"upload-token-secret", func(c *config.Config) *string { return &c.UploadTokenSecret }},
}

// Hydrate fills empty credential fields of cfg from projects/<project>/secrets/<id>.
// Values already set in the environment win. Secrets that do not exist are skipped.
func Hydrate(ctx context.Context, cfg *config.Config, acc Accessor, logger zerolog.Logger) error {
	project := cfg.SecretManagerProjectID
	if project == "" {
		return nil
	}
	for _, b := range bindings {
		dst := b.field(cfg)
		if *dst != "" {
			continue
		}
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, b.id)
		data, err := acc.Access(ctx, name)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				logger.Debug().Str("secret", b.id).Msg("Secret not found, leaving unset")
				continue
			}
			return fmt.Errorf("failed to access secret %s: %w", b.id, err)
		}
		*dst = string(data)
		logger.Info().Str("secret", b.id).Msg("Loaded secret from Secret Manager")
	}
	return nil
}
