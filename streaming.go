package cytoqc

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// StreamConfig configures live stage streaming.
type StreamConfig struct {
	// BufferSize is the channel buffer size per subscription. Default: 256.
	BufferSize int `yaml:"buffer_size"`
	// WriteTimeout bounds each WebSocket write. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{BufferSize: 256, WriteTimeout: 10 * time.Second}
}

// StageUpdate is a StageEvent as delivered to subscribers.
type StageUpdate struct {
	RunID      string  `json:"run_id"`
	Stage      string  `json:"stage"`
	DurationMS float64 `json:"duration_ms"`
	Flagged    int     `json:"flagged"`
	Windows    int     `json:"windows"`
	Error      string  `json:"error,omitempty"`
}

func newStageUpdate(ev StageEvent) StageUpdate {
	u := StageUpdate{
		RunID:      ev.RunID,
		Stage:      ev.Stage,
		DurationMS: float64(ev.Duration) / float64(time.Millisecond),
		Flagged:    ev.Flagged,
		Windows:    ev.Windows,
	}
	if ev.Err != nil {
		u.Error = ev.Err.Error()
	}
	return u
}

// Subscription receives the stage updates of one run, or of every run when
// RunID is empty.
type Subscription struct {
	ID    string
	RunID string

	ch     chan StageUpdate
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// C returns the channel of updates. It is closed with the subscription.
func (s *Subscription) C() <-chan StageUpdate {
	return s.ch
}

// Close closes the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

func (s *Subscription) send(u StageUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- u:
	default:
		// Slow subscriber: drop the update.
	}
}

// StreamHub fans stage events out to subscribers. It implements Observer.
type StreamHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
}

// NewStreamHub creates a new streaming hub.
func NewStreamHub(cfg StreamConfig) *StreamHub {
	def := DefaultStreamConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &StreamHub{config: cfg, subs: make(map[string]*Subscription)}
}

// Subscribe registers a subscription for runID; an empty runID matches
// every run.
func (h *StreamHub) Subscribe(runID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ID:    fmt.Sprintf("sub-%d", h.nextID),
		RunID: runID,
		ch:    make(chan StageUpdate, h.config.BufferSize),
		done:  make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// ObserveStage implements Observer.
func (h *StreamHub) ObserveStage(ev StageEvent) {
	h.Publish(newStageUpdate(ev))
}

// Publish sends u to every matching subscription without blocking.
func (h *StreamHub) Publish(u StageUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.RunID == "" || sub.RunID == u.RunID {
			sub.send(u)
		}
	}
}

// Count returns the number of active subscriptions.
func (h *StreamHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// List returns the active subscription IDs in order.
func (h *StreamHub) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON envelope exchanged over the WebSocket.
type StreamMessage struct {
	Type   string       `json:"type"`
	RunID  string       `json:"run_id,omitempty"`
	SubID  string       `json:"sub_id,omitempty"`
	Update *StageUpdate `json:"update,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// wsConn serializes writes to one WebSocket connection.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (c *wsConn) send(msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketHandler serves the stream. Clients send
// {"type":"subscribe","run_id":"..."} and {"type":"unsubscribe","sub_id":"..."};
// the server answers with "subscribed", "unsubscribed", "stage" and "error"
// messages.
func (h *StreamHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := &wsConn{conn: raw, timeout: h.config.WriteTimeout}
		defer func() { _ = raw.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		connSubs := make(map[string]*Subscription)
		var connMu sync.Mutex

		go func() {
			defer cancel()
			for {
				_, data, err := raw.ReadMessage()
				if err != nil {
					return
				}
				var cmd StreamMessage
				if err := json.Unmarshal(data, &cmd); err != nil {
					_ = conn.send(StreamMessage{Type: "error", Error: "invalid message format"})
					continue
				}

				switch cmd.Type {
				case "subscribe":
					sub := h.Subscribe(cmd.RunID)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()
					_ = conn.send(StreamMessage{Type: "subscribed", SubID: sub.ID, RunID: sub.RunID})
					go h.forward(ctx, conn, sub)

				case "unsubscribe":
					connMu.Lock()
					if _, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(cmd.SubID)
					}
					connMu.Unlock()
					_ = conn.send(StreamMessage{Type: "unsubscribed", SubID: cmd.SubID})

				default:
					_ = conn.send(StreamMessage{Type: "error", Error: "unknown command: " + cmd.Type})
				}
			}
		}()

		<-ctx.Done()

		connMu.Lock()
		for id := range connSubs {
			h.Unsubscribe(id)
		}
		connMu.Unlock()
	}
}

func (h *StreamHub) forward(ctx context.Context, conn *wsConn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case u, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := conn.send(StreamMessage{Type: "stage", SubID: sub.ID, Update: &u}); err != nil {
				return
			}
		}
	}
}
