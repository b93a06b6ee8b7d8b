package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

var _ ports.FrameSink = (*FrameBus)(nil)

// FrameBus carries replication frames between processes over Redis pub/sub.
// Delivery is at most once; observers rely on sequence gaps to resync.
type FrameBus struct {
	client *backend.Client
	prefix string
	logger *slog.Logger
}

// BusOption configures a FrameBus.
type BusOption func(*FrameBus)

// WithBusPrefix sets the channel prefix.
func WithBusPrefix(prefix string) BusOption {
	return func(b *FrameBus) {
		b.prefix = prefix
	}
}

// WithBusLogger sets the logger used for undecodable messages.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *FrameBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewFrameBus creates a bus on an existing client.
func NewFrameBus(client *backend.Client, opts ...BusOption) *FrameBus {
	b := &FrameBus{
		client: client,
		prefix: DefaultPrefix + "frames:",
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *FrameBus) channel(instanceID string) string {
	return b.prefix + instanceID
}

// Publish sends a frame to the instance channel.
func (b *FrameBus) Publish(ctx context.Context, f domain.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(f.InstanceID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish frame %d of %s: %w", f.Seq, f.InstanceID, err)
	}
	return nil
}

// Subscribe listens to the frames of one instance. The subscription is
// active when Subscribe returns.
func (b *FrameBus) Subscribe(ctx context.Context, instanceID string) (*FrameSubscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(instanceID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", instanceID, err)
	}

	sub := &FrameSubscription{ps: ps, ch: make(chan domain.Frame, 32)}
	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			var f domain.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.logger.Warn("dropping undecodable frame", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case sub.ch <- f:
			default:
				b.logger.Warn("subscriber buffer full, dropping frame", "instance_id", f.InstanceID, "seq", f.Seq)
			}
			if f.Terminal() {
				_ = ps.Close()
			}
		}
	}()
	return sub, nil
}

// FrameSubscription is a stream of frames received from Redis.
type FrameSubscription struct {
	ps *backend.PubSub
	ch chan domain.Frame
}

// C returns the frame channel. It is closed after the terminal frame or Close.
func (s *FrameSubscription) C() <-chan domain.Frame { return s.ch }

// Close ends the subscription.
func (s *FrameSubscription) Close() error {
	return s.ps.Close()
}
