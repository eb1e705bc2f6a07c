// Package delivery hands rendered digests to the email service over JetStream.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
)

// JSContext is the subset of JetStream the publisher depends on, so tests
// can run without a NATS server.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

var _ JSContext = (nats.JetStreamContext)(nil)

// DigestMessage is the payload consumed by the email service.
type DigestMessage struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"executionId"`
	Date        string    `json:"date"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html"`
	Text        string    `json:"text"`
	Recipients  []string  `json:"recipients"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Config configures the publisher.
type Config struct {
	Stream     string
	Subject    string
	MaxRetries int
	RetryDelay time.Duration
	MaxAge     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "DIGEST"
	}
	if c.Subject == "" {
		c.Subject = "digest.email"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
}

// Publisher publishes digests with deduplication ids and bounded retries.
type Publisher struct {
	js     JSContext
	cfg    Config
	logger *zap.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(js JSContext, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Publisher{js: js, cfg: cfg, logger: logger}, nil
}

// EnsureStream creates the stream if it does not exist.
func (p *Publisher) EnsureStream() error {
	info, err := p.js.StreamInfo(p.cfg.Stream)
	if err == nil {
		p.logger.Debug("JetStream stream already exists",
			zap.String("stream", p.cfg.Stream),
			zap.Uint64("messages", info.State.Msgs))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", p.cfg.Stream, err)
	}

	streamConfig := &nats.StreamConfig{
		Name:       p.cfg.Stream,
		Subjects:   []string{p.cfg.Subject},
		Storage:    nats.FileStorage,
		MaxAge:     p.cfg.MaxAge,
		Duplicates: 24 * time.Hour,
		Replicas:   1,
	}
	if _, err := p.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", p.cfg.Stream, err)
	}

	p.logger.Info("Created JetStream stream",
		zap.String("stream", p.cfg.Stream),
		zap.Strings("subjects", streamConfig.Subjects))
	return nil
}

// Publish sends the digest. The message id doubles as the JetStream
// deduplication id, so retries never deliver twice. It returns the id used.
func (p *Publisher) Publish(ctx context.Context, msg DigestMessage) (string, error) {
	if msg.Subject == "" && msg.HTML == "" && msg.Text == "" {
		return "", sdkerrors.NewError(sdkerrors.CodeValidation, "digest message is empty", nil)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal digest: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("publish cancelled: %w", err)
		}

		ack, err := p.js.Publish(p.cfg.Subject, data, nats.MsgId(msg.ID), nats.Context(ctx))
		if err == nil {
			p.logger.Info("Digest published",
				zap.String("message_id", msg.ID),
				zap.String("subject", p.cfg.Subject),
				zap.String("stream", ack.Stream),
				zap.Uint64("sequence", ack.Sequence),
				zap.Bool("duplicate", ack.Duplicate))
			return msg.ID, nil
		}
		lastErr = err

		if attempt < p.cfg.MaxRetries {
			p.logger.Warn("Failed to publish digest, retrying",
				zap.String("message_id", msg.ID),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.cfg.MaxRetries),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return "", fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * p.cfg.RetryDelay):
			}
		}
	}

	p.logger.Error("Failed to publish digest after retries",
		zap.String("message_id", msg.ID),
		zap.Int("attempts", p.cfg.MaxRetries),
		zap.Error(lastErr))
	return "", fmt.Errorf("%w: after %d attempts: %w", sdkerrors.ErrPublishFailed, p.cfg.MaxRetries, lastErr)
}
