/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/events"
)

// SubjectPrefix prefixes every event subject.
const SubjectPrefix = "anomalyops.events."

// NATSBus publishes events locally and to NATS. Events from other nodes
// are delivered to local subscribers; a node never re-delivers its own.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "anomalyops",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS and subscribes to remote events. When the
// connection fails the bus stays usable as a local-only bus and the error
// is logged.
func NewNATSBus(cfg NATSConfig, local *events.Bus, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		local:  local,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: generateNodeID(),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				nb.logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using local event bus only")
		return nb
	}
	nb.conn = conn

	sub, err := conn.Subscribe(SubjectPrefix+">", nb.handle)
	if err != nil {
		nb.logger.Warn().Err(err).Msg("nats subscribe failed, remote events disabled")
	} else {
		nb.sub = sub
	}

	nb.logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nb.nodeID).Msg("nats event bus connected")
	return nb
}

// Connected reports whether the bus holds a live NATS connection.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers to local subscribers and forwards to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}
	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal event")
		return
	}
	if err := nb.conn.Publish(Subject(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("nats publish failed")
	}
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (nb *NATSBus) handle(msg *nats.Msg) {
	m, err := unmarshalNATSMessage(msg.Data)
	if err != nil {
		nb.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
		return
	}
	if m.NodeID == nb.nodeID {
		return
	}
	payload := make(events.Payload, len(m.Payload)+1)
	for k, v := range m.Payload {
		payload[k] = v
	}
	payload[events.PayloadOrigin] = m.NodeID
	nb.local.Publish(m.EventType, payload)
}

// Subject returns the NATS subject for an event type.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal nats message: missing event_type")
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return strings.ToLower(host) + "-" + uuid.NewString()[:8]
}
