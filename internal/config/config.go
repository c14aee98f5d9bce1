package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"debug"`
	APIBaseURL  string `envconfig:"API_BASE_URL" default:"http://localhost:8080/v1"`
	AppBaseURL  string `envconfig:"APP_BASE_URL" default:"http://localhost:5173"`

	// Service-role connection string. It bypasses row level security, so the
	// webhook handler and the ledger can write to user_credits directly.
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	DBAutoMigrate      bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`

	// Supabase access tokens are verified with this key material (HS secret or PEM public key).
	JWTSecret string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`
	// Resume intent tokens are signed with this secret; falls back to JWTSecret.
	UploadTokenSecret string        `envconfig:"UPLOAD_TOKEN_SECRET"`
	UploadTokenTTL    time.Duration `envconfig:"UPLOAD_TOKEN_TTL" default:"30m"`
	UploadMaxBytes    int64         `envconfig:"UPLOAD_MAX_BYTES" default:"10485760"`
	UploadRatePerMin  int           `envconfig:"UPLOAD_RATE_PER_MIN" default:"20"`

	// Object storage
	StorageDriver   string `envconfig:"STORAGE_DRIVER" default:"s3"`
	S3URL           string `envconfig:"S3_URL"`
	S3Bucket        string `envconfig:"S3_BUCKET" default:"restored-photos"`
	S3Region        string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string `envconfig:"S3_SECRET_KEY"`
	S3UsePathStyle  bool   `envconfig:"S3_USE_PATH_STYLE" default:"true"`
	S3PublicHost    string `envconfig:"S3_PUBLIC_HOST" default:"s3.amazonaws.com"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
	MinioEndpoint   string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioUseSSL     bool   `envconfig:"MINIO_USE_SSL" default:"false"`

	// Inference provider
	ReplicateAPIToken       string        `envconfig:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL        string        `envconfig:"REPLICATE_BASE_URL" default:"https://api.replicate.com"`
	ReplicateModel          string        `envconfig:"REPLICATE_MODEL" default:"flux-kontext-apps/restore-image"`
	ReplicateModelVersion   string        `envconfig:"REPLICATE_MODEL_VERSION"`
	ReplicateRequestTimeout time.Duration `envconfig:"REPLICATE_REQUEST_TIMEOUT" default:"120s"`
	ReplicatePollInterval   time.Duration `envconfig:"REPLICATE_POLL_INTERVAL" default:"2s"`
	// sync runs inference inside the request, async hands it to the restoration orchestrator.
	InferenceMode            string `envconfig:"INFERENCE_MODE" default:"sync"`
	RefundOnInferenceFailure bool   `envconfig:"REFUND_ON_INFERENCE_FAILURE" default:"true"`

	// Stripe
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeCurrency      string `envconfig:"STRIPE_CURRENCY" default:"usd"`

	// Brevo
	BrevoAPIKey      string `envconfig:"BREVO_API_KEY"`
	BrevoBaseURL     string `envconfig:"BREVO_BASE_URL" default:"https://api.brevo.com"`
	BrevoSenderEmail string `envconfig:"BREVO_SENDER_EMAIL" default:"hello@photorestore.app"`
	BrevoSenderName  string `envconfig:"BREVO_SENDER_NAME" default:"Photo Restore"`

	// GCP
	GCPProjectID                  string `envconfig:"GCP_PROJECT_ID"`
	SecretManagerProjectID        string `envconfig:"SECRET_MANAGER_PROJECT_ID"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubNotificationsTopic      string `envconfig:"PUBSUB_NOTIFICATIONS_TOPIC"`
	PubSubPushAudience            string `envconfig:"PUBSUB_PUSH_AUDIENCE"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`

	// Restoration orchestrator settings
	RestorationQueueName           string `envconfig:"RESTORATION_QUEUE_NAME" default:"restoration_queue"`
	RestorationPollTimeoutSec      int    `envconfig:"RESTORATION_POLL_TIMEOUT_SEC" default:"30"`
	RestorationPollMaxMsg          int    `envconfig:"RESTORATION_POLL_MAX_MSG" default:"1"`
	RestorationMaxRetries          int    `envconfig:"RESTORATION_MAX_RETRIES" default:"30"`
	RestorationBackoffInitialSec   int    `envconfig:"RESTORATION_BACKOFF_INITIAL_SEC" default:"1"`
	RestorationBackoffMaxSec       int    `envconfig:"RESTORATION_BACKOFF_MAX_SEC" default:"30"`
	RestorationDeadLetterQueueName string `envconfig:"RESTORATION_DEAD_LETTER_QUEUE_NAME" default:"restoration_queue_dlq"`
}

const (
	InferenceModeSync  = "sync"
	InferenceModeAsync = "async"

	StorageDriverS3    = "s3"
	StorageDriverMinio = "minio"
)

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks rules that span more than one field.
func (c *Config) Validate() error {
	// envconfig only checks that required variables are present, not that they hold a value.
	if strings.TrimSpace(c.DBConnectionString) == "" {
		return fmt.Errorf("DB_CONNECTION_STRING must not be empty")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET must not be empty")
	}
	switch c.StorageDriver {
	case StorageDriverS3, StorageDriverMinio:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q: expected s3 or minio", c.StorageDriver)
	}
	switch c.InferenceMode {
	case InferenceModeSync, InferenceModeAsync:
	default:
		return fmt.Errorf("invalid INFERENCE_MODE %q: expected sync or async", c.InferenceMode)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}

// UploadSigningKey returns the secret used for resume intent tokens.
func (c *Config) UploadSigningKey() string {
	if c.UploadTokenSecret != "" {
		return c.UploadTokenSecret
	}
	return c.JWTSecret
}

// IsLocalPubSub reports whether push requests come from the emulator and skip OIDC checks.
func (c *Config) IsLocalPubSub() bool {
	return c.PubSubEmulatorHost != ""
}
