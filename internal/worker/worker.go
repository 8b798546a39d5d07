// Package worker computes payslips asynchronously from the EventBus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/metrics"
	"github.com/opensource-finance/paygrid/internal/payslip"
)

// Configurations resolves and invalidates payroll configurations.
type Configurations interface {
	Load(ctx context.Context, tenantID, configID string) (*domain.PayrollConfiguration, error)
	Invalidate(ctx context.Context, tenantID, configID string) error
}

// Worker consumes payslip requests, computes them and publishes the outcome.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	configs   Configurations
	processor *payslip.Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty subscribes to all tenants.
	TenantIDs []string
}

// Failure is published on TopicPayslipFailed.
type Failure struct {
	RequestID       string `json:"requestId"`
	TenantID        string `json:"tenantId"`
	ConfigurationID string `json:"configurationId"`
	TraceID         string `json:"traceId,omitempty"`
	Error           string `json:"error"`
	Kind            string `json:"kind"`
}

// NewWorker creates a new async worker. repo may be nil, in which case
// payslips are published but not stored.
func NewWorker(bus domain.EventBus, repo domain.Repository, configs Configurations, processor *payslip.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		configs:   configs,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to payslip requests and configuration changes.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	for _, tenantID := range tenants {
		if err := w.subscribe(tenantID, domain.TopicPayslipRequested, w.handleRequest); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		for _, topic := range []string{domain.TopicConfigurationSaved, domain.TopicConfigurationDeleted} {
			if err := w.subscribe(tenantID, topic, w.handleConfigurationEvent); err != nil {
				return fmt.Errorf("tenant %s: %w", tenantID, err)
			}
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"all_tenants", len(cfg.TenantIDs) == 0,
	)
	return nil
}

func (w *Worker) subscribe(tenantID, topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handler)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Debug("worker subscribed", "tenant_id", tenantID, "topic", topic)
	return nil
}

func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	metrics.WorkerJobsInFlight.Inc()
	defer metrics.WorkerJobsInFlight.Dec()

	return w.process(ctx, msg)
}

// process computes one payslip request. Failures are published, not retried.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.PayslipRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse payslip request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The envelope tenant is authoritative.
	req.TenantID = msg.TenantID
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	slog.Debug("processing payslip request",
		"request_id", req.RequestID,
		"tenant_id", req.TenantID,
		"configuration_id", req.ConfigurationID,
		"trace_id", req.TraceID,
	)

	cfg, err := w.configs.Load(ctx, req.TenantID, req.ConfigurationID)
	if err != nil {
		return w.fail(ctx, req, err, start)
	}

	slip, err := w.processor.Process(ctx, &payslip.PayslipInput{
		TenantID:        req.TenantID,
		ConfigurationID: req.ConfigurationID,
		TraceID:         req.TraceID,
		Config:          cfg,
		Record:          req.Record,
		StartTime:       start,
	})
	if err != nil {
		return w.fail(ctx, req, err, start)
	}

	if w.repo != nil {
		if err := w.repo.SavePayslip(ctx, req.TenantID, slip); err != nil {
			slog.Error("failed to save payslip",
				"payslip_id", slip.ID,
				"tenant_id", req.TenantID,
				"error", err,
			)
		}
	}

	payload, err := json.Marshal(slip)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, req.TenantID, domain.TopicPayslipComputed, payload); err != nil {
		slog.Error("failed to publish payslip",
			"payslip_id", slip.ID,
			"error", err,
		)
	}

	metrics.RecordPayslip(req.TenantID, metrics.ModeAsync, "success", len(slip.Warnings), time.Since(start).Seconds())
	slog.Info("payslip computed",
		"payslip_id", slip.ID,
		"request_id", req.RequestID,
		"tenant_id", req.TenantID,
		"configuration_id", req.ConfigurationID,
		"net_pay", slip.NetPay,
		"warnings", len(slip.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) fail(ctx context.Context, req domain.PayslipRequest, cause error, start time.Time) error {
	failure := Failure{
		RequestID:       req.RequestID,
		TenantID:        req.TenantID,
		ConfigurationID: req.ConfigurationID,
		TraceID:         req.TraceID,
		Error:           cause.Error(),
		Kind:            FailureKind(cause),
	}

	metrics.RecordPayslip(req.TenantID, metrics.ModeAsync, failure.Kind, 0, time.Since(start).Seconds())
	slog.Warn("payslip request failed",
		"request_id", req.RequestID,
		"tenant_id", req.TenantID,
		"configuration_id", req.ConfigurationID,
		"kind", failure.Kind,
		"error", cause,
	)

	payload, err := json.Marshal(failure)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, req.TenantID, domain.TopicPayslipFailed, payload); err != nil {
		slog.Error("failed to publish payslip failure",
			"request_id", req.RequestID,
			"error", err,
		)
	}
	return cause
}

// FailureKind classifies a payslip error for consumers and metrics.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrMissingField):
		return "missing_field"
	case errors.Is(err, domain.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownReference):
		return "not_found"
	}
	return "error"
}

// handleConfigurationEvent drops a changed configuration from the cache
// so the next request reloads it.
func (w *Worker) handleConfigurationEvent(ctx context.Context, msg *domain.Message) error {
	var ev domain.ConfigurationEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse configuration event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if err := w.configs.Invalidate(ctx, msg.TenantID, ev.ConfigurationID); err != nil {
		slog.Warn("failed to invalidate configuration",
			"tenant_id", msg.TenantID,
			"configuration_id", ev.ConfigurationID,
			"error", err,
		)
		return err
	}
	slog.Debug("configuration invalidated",
		"tenant_id", msg.TenantID,
		"configuration_id", ev.ConfigurationID,
		"topic", msg.Topic,
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
