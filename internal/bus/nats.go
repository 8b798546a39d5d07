package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// payslipWorkers is the queue group shared by every paygrid instance that
// computes payslips, so each request is handled once across the cluster.
const payslipWorkers = "paygrid-payslip-workers"

// NATSBus is the Pro tier bus. Subjects are "<topic>.<tenant>"; a
// domain.AllTenants subscription becomes the "*" token wildcard.
//
// Payslip requests are load-balanced over a queue group. Every other topic
// fans out to all subscribers, so configuration events reach each
// instance's cache.
type NATSBus struct {
	mu            sync.Mutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl, retrying up to NATSMaxReconnects
// times before giving up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		if conn, err = nats.Connect(cfg.NATSUrl, natsOptions(cfg, wait)...); err == nil {
			break
		}
		slog.Warn("nats connect failed", "attempt", attempt, "url", cfg.NATSUrl, "error", err)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.NATSUrl, err)
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
	}, nil
}

func natsOptions(cfg domain.EventBusConfig, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("paygrid"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// Publish sends payload to the tenant's subject for topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := publishTenant(tenantID); err != nil {
		return err
	}
	return b.send(natsSubject(topic, tenantID), newMessage(tenantID, topic, payload, nil))
}

// Subscribe delivers topic messages for tenantID, or for every tenant when
// tenantID is domain.AllTenants.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errNoTenant
	}

	subject := natsSubject(topic, tenantID)
	onMsg := func(m *nats.Msg) {
		msg, err := decodeEnvelope(m)
		if err != nil {
			slog.Error("dropping undecodable message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("message handler failed",
				"topic", msg.Topic,
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group := queueGroup(topic); group != "" {
		sub, err = b.conn.QueueSubscribe(subject, group, onMsg)
	} else {
		sub, err = b.conn.Subscribe(subject, onMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	s := &natsSubscription{id: uuid.New().String(), topic: topic, sub: sub, bus: b}
	b.mu.Lock()
	b.subscriptions[s.id] = s
	b.mu.Unlock()
	return s, nil
}

// Request publishes payload and waits for the first reply. The wait is
// bounded by ctx, or by defaultRequestTimeout when ctx has no deadline.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if err := publishTenant(tenantID); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	data, err := json.Marshal(newMessage(tenantID, topic, payload, nil))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	reply, err := b.conn.RequestWithContext(ctx, natsSubject(topic, tenantID), data)
	if err != nil {
		return nil, fmt.Errorf("request on %s: %w", topic, err)
	}

	var answer domain.Message
	if err := json.Unmarshal(reply.Data, &answer); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	return answer.Payload, nil
}

// Respond answers a message received through Request.
func (b *NATSBus) Respond(ctx context.Context, msg *domain.Message, payload []byte) error {
	replyTo, err := replyTarget(msg)
	if err != nil {
		return err
	}
	return b.send(replyTo, newMessage(msg.TenantID, msg.Topic, payload, map[string]string{MetaInReplyTo: msg.ID}))
}

// Ping flushes the connection to confirm the server is reachable.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops all subscriptions and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, s := range b.subscriptions {
		_ = s.sub.Unsubscribe()
		delete(b.subscriptions, id)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats returns connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (b *NATSBus) send(subject string, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return b.conn.Publish(subject, data)
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}

func natsSubject(topic, tenantID string) string {
	return topic + "." + tenantID
}

// queueGroup returns the queue group for topic, or "" for fan-out topics.
func queueGroup(topic string) string {
	if topic == domain.TopicPayslipRequested {
		return payslipWorkers
	}
	return ""
}

// decodeEnvelope unwraps a NATS message. The reply inbox, if any, is
// carried as MetaReplyTo; a missing tenant is taken from the subject.
func decodeEnvelope(m *nats.Msg) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return nil, err
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	if m.Reply != "" {
		msg.Metadata[MetaReplyTo] = m.Reply
	}
	if msg.TenantID == "" {
		if i := strings.LastIndexByte(m.Subject, '.'); i >= 0 {
			msg.TenantID = m.Subject[i+1:]
		}
	}
	return &msg, nil
}
