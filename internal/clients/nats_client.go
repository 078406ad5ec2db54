package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"issuance-backend/internal/config"
	"issuance-backend/internal/metrics"
	"issuance-backend/internal/services"
	"issuance-backend/internal/settlement"
)

// EventMessage is the payload published for every committed event.
type EventMessage struct {
	OperationID string           `json:"operation_id"`
	Sequence    uint64           `json:"sequence"`
	Kind        string           `json:"kind"`
	Sender      string           `json:"sender"`
	Position    int              `json:"position"`
	Event       settlement.Event `json:"event"`
}

// KYCUpdate is a message on the compliance feed.
type KYCUpdate struct {
	Action   string   `json:"action"` // "grant" | "revoke"
	Accounts []string `json:"accounts"`
	Source   string   `json:"source,omitempty"`
}

// NATSClient NATS client
type NATSClient struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	streamName    string
	subjectPrefix string
	useJetStream  bool
}

// NewNATSClient connects to NATS and, when enabled, ensures the JetStream
// stream covering every event subject exists.
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := time.Duration(cfg.Timeout) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	log.Printf("🔌 Using NATS timeout: %v", connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("issuance-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait)*time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{
		conn:          conn,
		streamName:    cfg.StreamName,
		subjectPrefix: cfg.SubjectPrefix,
		useJetStream:  cfg.EnableJetStream,
	}

	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		log.Printf("✅ NATS core publishing (JetStream disabled)")
	}

	return client, nil
}

// ensureStream creates the event stream when it does not exist yet
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		log.Printf("📦 Stream %s already exists", c.streamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{c.subjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", c.streamName, err)
	}

	log.Printf("✅ Stream %s created for %s.>", c.streamName, c.subjectPrefix)
	return nil
}

// EventSubject is the subject an event is published on:
// <prefix>.<component>.<event name>.
func EventSubject(prefix, component, name string) string {
	return prefix + "." + subjectToken(component) + "." + subjectToken(name)
}

// subjectToken strips characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// PublishOperation publishes every event of a committed operation.
func (c *NATSClient) PublishOperation(receipt *services.OperationReceipt) error {
	for i, ev := range receipt.Events {
		data, err := json.Marshal(EventMessage{
			OperationID: receipt.OperationID,
			Sequence:    receipt.Sequence,
			Kind:        receipt.Kind,
			Sender:      receipt.Sender.Hex(),
			Position:    i,
			Event:       ev,
		})
		if err != nil {
			return fmt.Errorf("encode event %s.%s: %w", ev.Component, ev.Name, err)
		}

		subject := EventSubject(c.subjectPrefix, ev.Component, ev.Name)
		if c.useJetStream {
			_, err = c.js.Publish(subject, data, nats.MsgId(fmt.Sprintf("%s-%d", receipt.OperationID, i)))
		} else {
			err = c.conn.Publish(subject, data)
		}
		if err != nil {
			metrics.NATSMessagesFailed.WithLabelValues(ev.Name, "publish").Inc()
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		metrics.NATSMessagesPublished.WithLabelValues(ev.Component).Inc()
	}
	return nil
}

// SubscribeToKYCUpdates delivers decoded compliance feed messages to
// handler. Malformed messages are counted and dropped.
func (c *NATSClient) SubscribeToKYCUpdates(subject string, handler func(*KYCUpdate) error) error {
	return c.subscribe(subject, func(msg *nats.Msg) {
		metrics.NATSMessagesReceived.WithLabelValues("kyc").Inc()

		update, err := DecodeKYCUpdate(msg.Data)
		if err != nil {
			log.Printf("❌ [NATS] Invalid KYC update on %s: %v", msg.Subject, err)
			metrics.NATSMessagesFailed.WithLabelValues("kyc", "decode").Inc()
			c.ack(msg)
			return
		}

		if err := handler(update); err != nil {
			log.Printf("❌ [NATS] KYC update %s failed: %v", update.Action, err)
			metrics.NATSMessagesFailed.WithLabelValues("kyc", "handler").Inc()
			// left unacked so JetStream redelivers
			return
		}
		c.ack(msg)
	})
}

// DecodeKYCUpdate parses and validates a compliance feed message.
func DecodeKYCUpdate(data []byte) (*KYCUpdate, error) {
	var update KYCUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, err
	}
	update.Action = strings.ToLower(strings.TrimSpace(update.Action))
	if update.Action != "grant" && update.Action != "revoke" {
		return nil, fmt.Errorf("unknown action %q", update.Action)
	}
	if len(update.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts")
	}
	return &update, nil
}

func (c *NATSClient) ack(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Ack(); err != nil {
		log.Printf("⚠️ [NATS] Ack failed: %v", err)
	}
}

// subscribe tries a core subscription first and falls back to JetStream.
func (c *NATSClient) subscribe(subject string, handler nats.MsgHandler) error {
	log.Printf("🔍 Subscribing to NATS subject: %s", subject)
	_, err := c.conn.Subscribe(subject, handler)
	if err == nil {
		log.Printf("✅ NATS subscription active: %s", subject)
		return nil
	}
	if c.js == nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Printf("⚠️ Core subscription failed, trying JetStream: %v", err)
	if _, err = c.js.Subscribe(subject, handler, nats.ManualAck()); err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Printf("✅ JetStream subscription active: %s", subject)
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
		metrics.NATSConnectionStatus.Set(0)
	}
}

// GetConnection returns the underlying connection
func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
