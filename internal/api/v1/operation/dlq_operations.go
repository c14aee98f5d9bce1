package operation

import "photorestore/internal/pubsub"

// Dead Letter Queue Operations

type RecordDLQInput struct {
	Body pubsub.PushRequest `json:"body"`
}

type RecordDLQOutput struct {
	// 200 OK with empty body
}
