package statuspub

import (
	"context"
	"testing"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(false, Config{})
	if err != nil {
		t.Fatalf("New(false, ...) error = %v, want nil", err)
	}
	if p != nil {
		t.Fatal("New(false, ...) should return a nil publisher")
	}

	ctx := context.Background()
	if err := p.PublishPhase(ctx, "s1", "selected"); err != nil {
		t.Errorf("PublishPhase on nil publisher should be a no-op, got error: %v", err)
	}
	if err := p.PublishMailbox(ctx, "s1", "INBOX", 3); err != nil {
		t.Errorf("PublishMailbox on nil publisher should be a no-op, got error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close on nil publisher should be a no-op, got error: %v", err)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(true, Config{RedisURL: "://not-a-url"})
	if err == nil {
		t.Fatal("New(true, ...) with a malformed redis_url should return an error")
	}
}

func TestNew_DefaultChannel(t *testing.T) {
	p, err := New(true, Config{RedisURL: "redis://localhost:6379/0"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	if p.channel != "imapwatch:status" {
		t.Errorf("channel = %q, want default %q", p.channel, "imapwatch:status")
	}
}

func TestNew_CustomChannel(t *testing.T) {
	p, err := New(true, Config{RedisURL: "redis://localhost:6379/0", Channel: "custom:channel"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	if p.channel != "custom:channel" {
		t.Errorf("channel = %q, want %q", p.channel, "custom:channel")
	}
}
