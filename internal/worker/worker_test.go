package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/opensource-finance/paygrid/internal/bus"
	"github.com/opensource-finance/paygrid/internal/cache"
	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/payslip"
	"github.com/opensource-finance/paygrid/internal/repository"
	"github.com/opensource-finance/paygrid/internal/rules"
)

func flatConfiguration(id string) *domain.PayrollConfiguration {
	return &domain.PayrollConfiguration{
		ID:       id,
		Name:     "Flat",
		Country:  "Kenya",
		Currency: "KES",
		Earnings: []domain.EarningComponent{
			{
				ID: "basic", Name: "Basic Salary", Code: "BASIC",
				Type: domain.EarningCash, TaxabilityStatus: domain.FullyTaxable,
				Calculation: domain.Calculation{CalculationMethod: domain.MethodFixedAmount, Amount: domain.Float(50000)},
			},
		},
		Tax: &domain.TaxConfiguration{
			TaxSystemType: domain.TaxFlat,
			Rate:          domain.Float(30),
		},
	}
}

func newTestRepository(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestProcessor(t *testing.T) *payslip.Processor {
	t.Helper()
	formulas, err := rules.NewFormulaEngine(16)
	if err != nil {
		t.Fatalf("failed to create formula engine: %v", err)
	}
	t.Cleanup(func() { formulas.Close() })
	return payslip.NewProcessor(formulas)
}

// collect subscribes to topic and forwards payloads to the returned channel.
func collect(t *testing.T, eventBus domain.EventBus, tenantID, topic string) <-chan []byte {
	t.Helper()
	ch := make(chan []byte, 10)
	sub, err := eventBus.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func waitFor(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func publishRequest(t *testing.T, eventBus domain.EventBus, req domain.PayslipRequest) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := eventBus.Publish(context.Background(), req.TenantID, domain.TopicPayslipRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepository(t)
	loader := cache.NewLoader(cache.NewLRUCache(100), repo, time.Minute)
	processor := newTestProcessor(t)

	ctx := context.Background()
	if err := repo.SaveConfiguration(ctx, "tenant-test", flatConfiguration("cfg-flat")); err != nil {
		t.Fatalf("SaveConfiguration failed: %v", err)
	}

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, repo, loader, processor)

		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 3 {
			t.Errorf("expected 3 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ComputePayslip", func(t *testing.T) {
		w := NewWorker(eventBus, repo, loader, processor)
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		computed := collect(t, eventBus, "tenant-test", domain.TopicPayslipComputed)

		publishRequest(t, eventBus, domain.PayslipRequest{
			RequestID:       "req-001",
			TenantID:        "tenant-test",
			ConfigurationID: "cfg-flat",
			TraceID:         "trace-001",
			Record:          domain.Record{"employee_id": domain.TextValue("E1")},
		})

		var slip domain.Payslip
		if err := json.Unmarshal(waitFor(t, computed), &slip); err != nil {
			t.Fatalf("failed to parse payslip: %v", err)
		}

		if slip.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", slip.TenantID)
		}
		if slip.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", slip.Metadata.TraceID)
		}
		if slip.GrossEarnings != 50000 || slip.Tax != 15000 || slip.NetPay != 35000 {
			t.Errorf("unexpected totals: gross %.2f tax %.2f net %.2f", slip.GrossEarnings, slip.Tax, slip.NetPay)
		}

		stored, err := repo.GetPayslip(ctx, "tenant-test", slip.ID)
		if err != nil {
			t.Fatalf("GetPayslip failed: %v", err)
		}
		if stored.NetPay != 35000 {
			t.Errorf("expected stored net 35000, got %.2f", stored.NetPay)
		}
	})

	t.Run("UnknownConfiguration", func(t *testing.T) {
		w := NewWorker(eventBus, repo, loader, processor)
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		failed := collect(t, eventBus, "tenant-test", domain.TopicPayslipFailed)

		publishRequest(t, eventBus, domain.PayslipRequest{
			RequestID:       "req-missing",
			TenantID:        "tenant-test",
			ConfigurationID: "nonexistent",
		})

		var failure Failure
		if err := json.Unmarshal(waitFor(t, failed), &failure); err != nil {
			t.Fatalf("failed to parse failure: %v", err)
		}
		if failure.RequestID != "req-missing" {
			t.Errorf("expected requestId 'req-missing', got '%s'", failure.RequestID)
		}
		if failure.Kind != "not_found" {
			t.Errorf("expected kind not_found, got %s", failure.Kind)
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		w := NewWorker(eventBus, nil, loader, processor)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		computed := collect(t, eventBus, "tenant-test", domain.TopicPayslipComputed)

		publishRequest(t, eventBus, domain.PayslipRequest{
			TenantID:        "tenant-test",
			ConfigurationID: "cfg-flat",
		})

		var slip domain.Payslip
		if err := json.Unmarshal(waitFor(t, computed), &slip); err != nil {
			t.Fatalf("failed to parse payslip: %v", err)
		}
		if slip.Metadata.TraceID == "" {
			t.Error("expected trace ID to default to the message ID")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, loader, processor)
		if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 6 {
			t.Errorf("expected 6 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

type recordingConfigurations struct {
	mu          sync.Mutex
	invalidated []string
	done        chan struct{}
}

func (r *recordingConfigurations) Load(ctx context.Context, tenantID, configID string) (*domain.PayrollConfiguration, error) {
	return nil, domain.ErrNotFound
}

func (r *recordingConfigurations) Invalidate(ctx context.Context, tenantID, configID string) error {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, tenantID+"/"+configID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestWorkerInvalidatesOnConfigurationChange(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	configs := &recordingConfigurations{done: make(chan struct{}, 2)}
	w := NewWorker(eventBus, nil, configs, newTestProcessor(t))
	if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	payload, _ := json.Marshal(domain.ConfigurationEvent{ConfigurationID: "cfg-001", TenantID: "tenant-001"})
	for _, topic := range []string{domain.TopicConfigurationSaved, domain.TopicConfigurationDeleted} {
		if err := eventBus.Publish(context.Background(), "tenant-001", topic, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-configs.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for invalidation")
		}
	}

	configs.mu.Lock()
	defer configs.mu.Unlock()
	for _, got := range configs.invalidated {
		if got != "tenant-001/cfg-001" {
			t.Errorf("unexpected invalidation %s", got)
		}
	}
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.Configf("tax", "bad"), "configuration"},
		{&domain.MissingFieldError{Field: "salary"}, "missing_field"},
		{&domain.TypeMismatchError{Field: "grade"}, "type_mismatch"},
		{repository.ErrNotFound, "not_found"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := FailureKind(tt.err); got != tt.want {
			t.Errorf("FailureKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
