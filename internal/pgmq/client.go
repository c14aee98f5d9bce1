// Package pgmq is a thin client for the pgmq Postgres extension.
package pgmq

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Client runs pgmq functions over a database/sql connection.
type Client struct {
	db *sql.DB
}

func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message is one row returned by pgmq.read_with_poll.
type Message struct {
	ID         int64
	ReadCount  int
	EnqueuedAt time.Time
	Data       []byte // raw JSON payload
}

// CreateQueue creates queue if it does not exist yet.
func (c *Client) CreateQueue(ctx context.Context, queue string) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.create($1)", queue); err != nil {
		return fmt.Errorf("pgmq create %s failed: %w", queue, err)
	}
	return nil
}

// Send pushes a JSON payload into the given queue.
func (c *Client) Send(ctx context.Context, queue string, payload []byte) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.send($1, $2::jsonb, 0)", queue, string(payload)); err != nil {
		return fmt.Errorf("pgmq send to %s failed: %w", queue, err)
	}
	return nil
}

// ReadWithPoll reads up to maxMessages, blocking up to timeoutSec seconds. Read
// messages stay invisible for timeoutSec seconds before they can be read again.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*Message, error) {
	query := "SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read_with_poll($1, $2, $3, $4)"
	rows, err := c.db.QueryContext(ctx, query, queue, timeoutSec, maxMessages, timeoutSec)
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll on %s failed: %w", queue, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.Data); err != nil {
			return nil, fmt.Errorf("pgmq read scan failed: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows error: %w", err)
	}
	return msgs, nil
}

// Delete removes one message from the queue.
func (c *Client) Delete(ctx context.Context, queue string, msgID int64) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.delete($1, $2::bigint)", queue, msgID); err != nil {
		return fmt.Errorf("pgmq delete %d from %s failed: %w", msgID, queue, err)
	}
	return nil
}
