// Package zaplog publishes sync events as structured log lines.
package zaplog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher writes each payload to the logger at Info level.
type Publisher struct {
	logger *zap.Logger
	seq    atomic.Int64
}

// New returns a Publisher writing to logger.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish logs the JSON encoding of payload and returns a sequence ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := fmt.Sprintf("log-%d", p.seq.Add(1))
	p.logger.Info("event published",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.ByteString("payload", data),
	)
	return id, nil
}
