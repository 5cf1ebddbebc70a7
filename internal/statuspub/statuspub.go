// Package statuspub mirrors session phase transitions and mailbox
// snapshot changes to a Redis pub/sub channel, for external dashboards
// watching a fleet of imapwatch sessions. It is strictly optional and
// fire-and-forget: a publish failure never affects the session, the
// same backpressure rule the session applies to subscriber delivery.
package statuspub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one status update published to the channel.
type Event struct {
	Session   string    `json:"session"`
	Kind      string    `json:"kind"` // "phase" or "mailbox"
	Phase     string    `json:"phase,omitempty"`
	Mailbox   string    `json:"mailbox,omitempty"`
	Exists    int       `json:"exists,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes Events to a Redis channel. A nil *Publisher (from
// New with enabled=false) is safe to call Publish/Close on.
type Publisher struct {
	client  *redis.Client
	channel string
}

// Config configures the publisher.
type Config struct {
	RedisURL string
	Channel  string
}

// New connects to Redis per cfg. If enabled is false, it returns (nil,
// nil) and Publish/Close on the resulting nil pointer are no-ops.
func New(enabled bool, cfg Config) (*Publisher, error) {
	if !enabled {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("statuspub: invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	channel := cfg.Channel
	if channel == "" {
		channel = "imapwatch:status"
	}

	return &Publisher{client: client, channel: channel}, nil
}

// PublishPhase publishes a phase transition event. Errors are returned
// to the caller for logging only — callers must not let a publish
// failure interrupt the session loop (spec.md §5's backpressure rule).
func (p *Publisher) PublishPhase(ctx context.Context, session, phase string) error {
	return p.publish(ctx, Event{Session: session, Kind: "phase", Phase: phase, Timestamp: time.Now()})
}

// PublishMailbox publishes a mailbox snapshot change event.
func (p *Publisher) PublishMailbox(ctx context.Context, session, mailbox string, exists int) error {
	return p.publish(ctx, Event{Session: session, Kind: "mailbox", Mailbox: mailbox, Exists: exists, Timestamp: time.Now()})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("statuspub: marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("statuspub: publish: %w", err)
	}
	return nil
}

// Close releases the Redis client. Safe to call on a nil *Publisher.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
