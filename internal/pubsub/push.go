package pubsub

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// PushRequest is the body Pub/Sub posts to a push subscription endpoint.
type PushRequest struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

type PushMessage struct {
	Data        string            `json:"data"` // base64
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

var ErrEmptyPush = errors.New("pubsub push without message data")

// Data returns the decoded message payload.
func (r *PushRequest) Data() ([]byte, error) {
	if r.Message.Data == "" {
		return nil, ErrEmptyPush
	}
	return base64.StdEncoding.DecodeString(r.Message.Data)
}

// Decode unmarshals the payload into v.
func (r *PushRequest) Decode(v any) error {
	data, err := r.Data()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
