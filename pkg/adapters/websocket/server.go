// Package websocket streams the committed frames of an instance to remote
// observers over a WebSocket connection.
//
// The server sends one "frame" message per frame. A client that detects a
// sequence gap sends a "resync" request and receives a "snapshot" message
// with the authoritative state; it never re-derives state on its own.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/replication"
)

// Message types.
const (
	TypeFrame    = "frame"
	TypeSnapshot = "snapshot"
	TypeResync   = "resync"
	TypeError    = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message is the JSON envelope exchanged in both directions.
type Message struct {
	Type     string           `json:"type"`
	Frame    *domain.Frame    `json:"frame,omitempty"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// FrameSource streams the committed frames of an instance.
type FrameSource interface {
	Subscribe(instanceID string, since uint64) (*replication.Subscription, error)
}

// Handler upgrades requests of the form ?instance=<id>&since=<seq> and
// streams frames until the instance ends or the client leaves.
type Handler struct {
	frames   FrameSource
	resyncer replication.Resyncer
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCheckOrigin replaces the origin check; by default every origin is accepted.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHandler creates a Handler. resyncer answers client resync requests,
// typically the same coordinator that provides the frames.
func NewHandler(frames FrameSource, resyncer replication.Resyncer, opts ...Option) *Handler {
	h := &Handler{
		frames:   frames,
		resyncer: resyncer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	instanceID := query.Get("instance")
	if instanceID == "" {
		http.Error(w, "missing instance parameter", http.StatusBadRequest)
		return
	}
	var since uint64
	if raw := query.Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = v
	}

	sub, err := h.frames.Subscribe(instanceID, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "instance_id", instanceID, "error", err)
		return
	}
	defer conn.Close()
	h.logger.Info("observer connected", "instance_id", instanceID, "since", since, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan Message, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, conn, instanceID, replies)
	}()

	h.writeLoop(ctx, conn, sub, replies)
	cancel()
	// Unblock the reader.
	_ = conn.SetReadDeadline(time.Now())
	wg.Wait()
	h.logger.Info("observer disconnected", "instance_id", instanceID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, instanceID string, replies chan<- Message) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		var reply Message
		switch msg.Type {
		case TypeResync:
			snap, err := h.resyncer.Resync(ctx, instanceID)
			if err != nil {
				reply = Message{Type: TypeError, Error: fmt.Sprintf("resync: %v", err)}
				break
			}
			h.logger.Debug("observer resynced", "instance_id", instanceID, "seq", snap.Seq)
			reply = Message{Type: TypeSnapshot, Snapshot: snap}
		default:
			reply = Message{Type: TypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type)}
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *replication.Subscription, replies <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg Message) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg) == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "instance ended"))
				return
			}
			if !write(Message{Type: TypeFrame, Frame: &f}) {
				return
			}
		case msg := <-replies:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
