package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"photorestore/internal/config"
	"photorestore/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	retention       = 7 * 24 * time.Hour
	ackDeadline     = 60 * time.Second
	maxDeliveries   = 5
	subscriptionTTL = 31 * 24 * time.Hour
)

// 'host.docker.internal' lets the emulator container reach the API on the host.
const defaultAPIBase = "http://host.docker.internal:8080/v1"

type subscriptionSpec struct {
	id       string
	topic    *pubsub.Topic
	endpoint string
	dlq      *pubsub.Topic
}

func main() {
	apiBase := flag.String("api", defaultAPIBase, "API base URL the emulator pushes to")
	reset := flag.Bool("reset", false, "Delete every topic and subscription on the emulator first")
	flag.Parse()

	logger := logger.New()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("No .env file found, relying on system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	if cfg.GCPProjectID == "" {
		logger.Fatal().Msg("GCP_PROJECT_ID is not set")
	}
	if !cfg.IsLocalPubSub() {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set; this tool only targets the emulator")
	}
	topicID := cfg.PubSubNotificationsTopic
	if topicID == "" {
		topicID = "notifications"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID,
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Pub/Sub client")
		}
	}()

	if *reset {
		if err := resetEmulator(ctx, client, logger); err != nil {
			logger.Fatal().Err(err).Msg("Reset failed")
		}
	}
	if err := ensureNotificationResources(ctx, client, topicID, strings.TrimRight(*apiBase, "/"), logger); err != nil {
		logger.Fatal().Err(err).Msg("Setup failed")
	}
	logger.Info().Str("topic", topicID).Msg("Pub/Sub emulator ready")
}

// ensureNotificationResources creates the notifications topic, its dead-letter
// topic and the two push subscriptions: jobs go to /notifications/push and
// undeliverable jobs to /dlq/record.
func ensureNotificationResources(ctx context.Context, client *pubsub.Client, topicID, apiBase string, logger zerolog.Logger) error {
	dlqTopic, err := ensureTopic(ctx, client, topicID+"-dlq", logger)
	if err != nil {
		return err
	}
	mainTopic, err := ensureTopic(ctx, client, topicID, logger)
	if err != nil {
		return err
	}

	specs := []subscriptionSpec{
		{id: topicID + "-sub", topic: mainTopic, endpoint: apiBase + "/notifications/push", dlq: dlqTopic},
		{id: topicID + "-dlq-sub", topic: dlqTopic, endpoint: apiBase + "/dlq/record"},
	}
	for _, s := range specs {
		if err := ensureSubscription(ctx, client, s, logger); err != nil {
			return err
		}
	}
	return nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string, logger zerolog.Logger) (*pubsub.Topic, error) {
	topic := client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", id, err)
	}
	if exists {
		logger.Info().Str("topic", id).Msg("Topic exists")
		return topic, nil
	}
	logger.Info().Str("topic", id).Dur("retention", retention).Msg("Creating topic")
	return client.CreateTopicWithConfig(ctx, id, &pubsub.TopicConfig{RetentionDuration: retention})
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, s subscriptionSpec, logger zerolog.Logger) error {
	want := pubsub.SubscriptionConfig{
		Topic:            s.topic,
		PushConfig:       pubsub.PushConfig{Endpoint: s.endpoint},
		AckDeadline:      ackDeadline,
		ExpirationPolicy: subscriptionTTL,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: 10 * time.Second,
			MaximumBackoff: 600 * time.Second,
		},
	}
	if s.dlq != nil {
		want.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     s.dlq.String(),
			MaxDeliveryAttempts: maxDeliveries,
		}
	}

	sub := client.Subscription(s.id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", s.id, err)
	}
	if !exists {
		logger.Info().Str("subscription", s.id).Str("endpoint", s.endpoint).Msg("Creating subscription")
		if _, err := client.CreateSubscription(ctx, s.id, want); err != nil {
			return fmt.Errorf("create subscription %s: %w", s.id, err)
		}
		return nil
	}

	have, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("read subscription %s: %w", s.id, err)
	}
	if have.PushConfig.Endpoint == want.PushConfig.Endpoint && have.AckDeadline == want.AckDeadline {
		logger.Info().Str("subscription", s.id).Msg("Subscription up to date")
		return nil
	}

	logger.Info().Str("subscription", s.id).Str("endpoint", s.endpoint).Msg("Updating subscription")
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		PushConfig:  &want.PushConfig,
		AckDeadline: want.AckDeadline,
		RetryPolicy: want.RetryPolicy,
	})
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", s.id, err)
	}
	return nil
}

// resetEmulator deletes every subscription and topic. Emulator only.
func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) error {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	logger.Info().Msg("Emulator reset")
	return nil
}
