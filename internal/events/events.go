// Package events publishes gallery notifications.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/photo-gallery/backend/internal/config"
	"go.uber.org/zap"
)

// Type names a gallery notification.
type Type string

const (
	ImageUploaded Type = "image.uploaded"
	ImageDeleted  Type = "image.deleted"
	BatchFinished Type = "batch.finished"
	UploadFailed  Type = "upload.failed"
)

// Event is a gallery notification. Owner is used as the partition key.
type Event struct {
	Type      Type      `json:"type"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name,omitempty"`
	ImageID   string    `json:"imageId,omitempty"`
	URL       string    `json:"url,omitempty"`
	BatchID   string    `json:"batchId,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Open builds the publisher selected by cfg.
func Open(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "log":
		return NewLogPublisher(logger), nil
	case "kafka":
		return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error { return nil }

// LogPublisher writes events to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher logs events under the "events" logger name.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("type", string(e.Type)),
		zap.String("owner", e.Owner),
	}
	if e.Name != "" {
		fields = append(fields, zap.String("name", e.Name))
	}
	if e.BatchID != "" {
		fields = append(fields, zap.String("batch", e.BatchID), zap.Int("completed", e.Completed), zap.Int("failed", e.Failed))
	}
	if e.Error != "" {
		p.logger.Warn("gallery event", append(fields, zap.String("error", e.Error))...)
		return nil
	}
	p.logger.Info("gallery event", fields...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
