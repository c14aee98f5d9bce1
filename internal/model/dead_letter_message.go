package model

import "time"

// DeadLetterMessage is a notification job that Pub/Sub gave up delivering.
type DeadLetterMessage struct {
	ID               string    `db:"id"`
	SubscriptionName string    `db:"subscription_name"`
	MessageID        string    `db:"message_id"`
	Payload          string    `db:"payload"`    // JSON
	Attributes       *string   `db:"attributes"` // JSON, nullable
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}
