// Package pubsub implements a Google Cloud Pub/Sub publisher for sync events.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Config selects the project and client options.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
}

// Publisher publishes JSON payloads to Pub/Sub topics, caching one topic handle per name.
type Publisher struct {
	client *pubsub.Client
	owned  bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Open creates a client for cfg.ProjectID. The returned Publisher owns the client.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client)
	p.owned = true
	return p, nil
}

// Publish marshals the payload to JSON and waits for the server to acknowledge it.
// Payloads exposing Attributes() map[string]string have them attached to the message.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = a.Attributes()
	}

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}

// Close flushes pending messages and closes the client if Open created it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()

	if !p.owned {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
