// Package viewer relays published call events to browsers over websocket.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event is what browsers receive: the original payload plus routing fields.
type Event struct {
	Topic     string          `json:"topic"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode wraps a topic message, reading the envelope fields every
// published event carries.
func Decode(topic string, value []byte) (Event, error) {
	var envelope struct {
		EventType string `json:"eventType"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return Event{}, fmt.Errorf("decode %s message: %w", topic, err)
	}
	if envelope.EventType == "" {
		return Event{}, fmt.Errorf("decode %s message: missing eventType", topic)
	}
	return Event{
		Topic:     topic,
		EventType: envelope.EventType,
		SessionID: envelope.SessionID,
		Payload:   json.RawMessage(value),
	}, nil
}

// Hub tracks connected browsers and broadcasts events to them.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			// Local dev tool: any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", n).Msg("Client connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.logger.Info().Int("clients", n).Msg("Client disconnected")
	}
}

// Broadcast writes ev to every client, dropping clients that fail.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Warn().Err(err).Msg("Write failed, dropping client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Reader is the part of *kafka.Reader Consume uses.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReader reads partition 0 of topic without a consumer group, starting
// at messages newer than since. That works through a port-forward.
func NewReader(ctx context.Context, brokers []string, topic string, since time.Duration) (*kafka.Reader, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if since > 0 {
		if err := r.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
			r.Close()
			return nil, fmt.Errorf("set offset on %s: %w", topic, err)
		}
	}
	return r, nil
}

// Consume relays messages from r until ctx is done. Undecodable messages
// are logged and skipped; read errors are retried after retryDelay.
func Consume(ctx context.Context, r Reader, topic string, hub *Hub, logger zerolog.Logger, retryDelay time.Duration) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		ev, err := Decode(topic, msg.Value)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping message")
			continue
		}
		logger.Debug().Str("eventType", ev.EventType).Str("sessionId", ev.SessionID).Msg("Relaying event")
		hub.Broadcast(ev)
	}
}
