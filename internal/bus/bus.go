// Package bus carries payroll events between the API and the payslip
// workers: a channel bus inside one process, NATS across processes.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// Metadata keys set on envelopes by the request/reply helpers.
const (
	MetaReplyTo   = "reply_to"
	MetaInReplyTo = "in_reply_to"
)

// defaultRequestTimeout bounds Request when the context has no deadline.
const defaultRequestTimeout = 30 * time.Second

var (
	errNoTenant = errors.New("tenantID is required")
	errClosed   = errors.New("bus is closed")
)

// New creates the bus selected by cfg.Type: "channel" or "nats".
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// publishTenant rejects envelopes without a concrete tenant.
func publishTenant(tenantID string) error {
	if tenantID == "" || tenantID == domain.AllTenants {
		return errNoTenant
	}
	return nil
}

func newMessage(tenantID, topic string, payload []byte, metadata map[string]string) *domain.Message {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}
}

// replyTarget returns where the answer to msg must go.
func replyTarget(msg *domain.Message) (string, error) {
	if to := msg.Metadata[MetaReplyTo]; to != "" {
		return to, nil
	}
	return "", fmt.Errorf("message %s expects no reply", msg.ID)
}
