package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/replication"
)

// Client is an observer connection to a Handler.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Dial connects to the handler at endpoint (a ws:// or wss:// URL) and
// subscribes to instanceID from since.
func Dial(ctx context.Context, endpoint, instanceID string, since uint64, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("instance", instanceID)
	q.Set("since", strconv.FormatUint(since, 10))
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", instanceID, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", instanceID, err)
	}

	c := &Client{conn: conn, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestResync asks the server for the authoritative state.
func (c *Client) RequestResync() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(Message{Type: TypeResync})
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Follow applies every received frame to m until the server closes the
// stream or ctx is done. A gap triggers one resync request; frames that
// arrive before the snapshot are skipped.
func (c *Client) Follow(ctx context.Context, m *replication.Mirror) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	resyncing := false
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("follow %s: %w", m.InstanceID(), err)
		}

		switch msg.Type {
		case TypeFrame:
			if msg.Frame == nil {
				continue
			}
			err := m.Apply(ctx, *msg.Frame)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNetworkDesync) {
				return err
			}
			if resyncing {
				continue
			}
			c.logger.Warn("observer out of sequence, resyncing", "instance_id", m.InstanceID(), "error", err)
			if err := c.RequestResync(); err != nil {
				return fmt.Errorf("follow %s: resync request: %w", m.InstanceID(), err)
			}
			resyncing = true
		case TypeSnapshot:
			m.Reset(msg.Snapshot)
			resyncing = false
		case TypeError:
			return fmt.Errorf("follow %s: server: %s: %w", m.InstanceID(), msg.Error, domain.ErrNetworkDesync)
		}
	}
}
