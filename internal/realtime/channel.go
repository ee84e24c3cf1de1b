// Package realtime maintains the websocket connection to the backend's
// analysis feed. One connection, one logical subscription at a time.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/core/models"
	"media-analyzer-go/internal/core/pubsub"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Message types of the websocket envelope.
const (
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypePing           = "ping"
	TypeAnalysisUpdate = "analysis_update"
	TypeRecentAnalysis = "recent_analysis"
)

// Envelope is the single JSON frame exchanged with the backend, tagged by
// Type. The subscribe/unsubscribe field is named stream_id on the wire even
// though it carries the stream key; the backend renamed the column but kept
// the wire contract.
type Envelope struct {
	Type      string            `json:"type"`
	StreamID  string            `json:"stream_id,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Analysis  *models.Analysis  `json:"analysis,omitempty"`
	Analyses  []models.Analysis `json:"analyses,omitempty"`
}

// Channel is a websocket client for the analysis feed. A dropped connection
// is not redialed automatically; the consumer must call Subscribe again.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	subscribedKey string

	analyses *pubsub.Subject[models.Analysis]
	status   *pubsub.Value[bool]
}

// NewChannel creates a channel for the configured websocket endpoint.
func NewChannel(cfg config.WebSocketConfig) *Channel {
	return &Channel{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		analyses: pubsub.NewSubject[models.Analysis](),
		status:   pubsub.NewValue(false),
	}
}

// Analyses is the stream of inbound analysis events.
func (c *Channel) Analyses() *pubsub.Subject[models.Analysis] {
	return c.analyses
}

// Status reports whether the socket is currently connected.
func (c *Channel) Status() *pubsub.Value[bool] {
	return c.status
}

// Subscribe opens the socket if needed and sends a subscribe control message
// for streamKey. sessionID only identifies the client-side session in logs;
// the wire contract does not carry it.
func (c *Channel) Subscribe(streamKey, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		log.Infof("Connecting to analysis websocket: %s", c.url)
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			return fmt.Errorf("failed to connect websocket: %w", err)
		}
		c.conn = conn
		c.status.Set(true)
		go c.readPump(conn)
	}

	msg := Envelope{Type: TypeSubscribe, StreamID: streamKey}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	c.subscribedKey = streamKey
	log.Infof("Subscribed to analysis feed for stream %s (session %s)", streamKey, sessionID)
	return nil
}

// Unsubscribe sends an unsubscribe control message for the previously
// subscribed key. The socket stays open.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.subscribedKey == "" {
		return
	}

	msg := Envelope{Type: TypeUnsubscribe, StreamID: c.subscribedKey}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Warnf("Failed to send unsubscribe message: %v", err)
	}
	c.subscribedKey = ""
}

// Disconnect force-closes the socket and resets subscription state.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.subscribedKey = ""
	c.status.Set(false)
}

// Ping sends a ping control frame with the current timestamp.
func (c *Channel) Ping() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	msg := Envelope{Type: TypePing, Timestamp: time.Now().UnixMilli()}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Warnf("Failed to send ping: %v", err)
	}
}

// readPump reads inbound frames until the connection dies. It owns conn for
// reading; writes go through the mutex-guarded methods above.
func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Infof("Analysis websocket closed: %v", err)
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.subscribedKey = ""
			}
			c.mu.Unlock()
			c.status.Set(false)
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage demultiplexes one inbound frame. Malformed frames are logged
// and dropped, never surfaced to consumers.
func (c *Channel) handleMessage(data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Errorf("Failed to parse websocket message: %v", err)
		return
	}

	switch msg.Type {
	case TypeAnalysisUpdate:
		if msg.Analysis != nil {
			c.analyses.Emit(*msg.Analysis)
		}
	case TypeRecentAnalysis:
		// The backend sends the backfill list newest first. Re-emit oldest
		// first so the aggregator's prepend leaves the newest at the head.
		for i := len(msg.Analyses) - 1; i >= 0; i-- {
			c.analyses.Emit(msg.Analyses[i])
		}
	default:
		log.Debugf("Ignoring websocket message of type %q", msg.Type)
	}
}
