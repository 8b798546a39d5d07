package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/opensource-finance/paygrid/internal/cache"
	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/export"
	"github.com/opensource-finance/paygrid/internal/metrics"
	"github.com/opensource-finance/paygrid/internal/payslip"
	"github.com/opensource-finance/paygrid/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	configs   *cache.Loader
	processor *payslip.Processor
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, c domain.Cache, bus domain.EventBus, processor *payslip.Processor, evaluation domain.EvaluationConfig, version string) *Handler {
	var source cache.ConfigurationSource
	if repo != nil {
		source = repo
	}
	loader := cache.NewLoader(c, source, evaluation.ConfigurationTTL)
	loader.OnLookup = metrics.RecordCacheLookup

	return &Handler{
		repo:      repo,
		cache:     c,
		bus:       bus,
		configs:   loader,
		processor: processor,
		version:   version,
	}
}

// Loader exposes the handler's configuration loader so the async worker
// shares its cache.
func (h *Handler) Loader() *cache.Loader {
	return h.configs
}

var errNoRepository = errors.New("repository not available")

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			status = "degraded"
			components[name] = err.Error()
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// CONFIGURATION HANDLERS
// ============================================================================

// ConfigurationResponse wraps a stored configuration with its validation warnings.
type ConfigurationResponse struct {
	Configuration *domain.PayrollConfiguration `json:"configuration"`
	Issues        []rules.Issue                `json:"issues"`
}

// ValidationResponse is the response for POST /configurations/validate.
type ValidationResponse struct {
	Valid  bool          `json:"valid"`
	Issues []rules.Issue `json:"issues"`
}

// readConfiguration decodes a configuration body, rejecting unknown fields.
func readConfiguration(r *http.Request) (*domain.PayrollConfiguration, error) {
	cfg, err := export.DecodeFrom(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return cfg, nil
}

func (h *Handler) validate(cfg *domain.PayrollConfiguration) []rules.Issue {
	var issues []rules.Issue
	if h.processor.Formulas != nil {
		issues = rules.ValidateConfigurationWith(cfg, h.processor.Formulas)
	} else {
		issues = rules.ValidateConfiguration(cfg)
	}
	for _, issue := range issues {
		metrics.RecordValidationIssue(string(issue.Severity))
	}
	if issues == nil {
		issues = []rules.Issue{}
	}
	return issues
}

// ValidateConfiguration reports issues in a configuration without storing it.
func (h *Handler) ValidateConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := readConfiguration(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	issues := h.validate(cfg)
	writeJSON(w, http.StatusOK, ValidationResponse{
		Valid:  !rules.HasErrors(issues),
		Issues: issues,
	})
}

// ListConfigurations lists the tenant's active configurations.
func (h *Handler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRepository.Error())
		return
	}

	list, err := h.repo.ListConfigurations(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"configurations": list,
		"count":          len(list),
	})
}

// GetConfiguration returns the latest revision of a configuration.
func (h *Handler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Load(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CreateConfiguration validates and stores a new configuration.
func (h *Handler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := readConfiguration(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.save(w, r, cfg, "create", http.StatusCreated)
}

// UpdateConfiguration stores a new revision of an existing configuration.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRepository.Error())
		return
	}

	ctx := r.Context()
	configID := chi.URLParam(r, "id")
	if _, err := h.repo.GetConfiguration(ctx, GetTenantID(ctx), configID); err != nil {
		fail(w, r, err)
		return
	}

	cfg, err := readConfiguration(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if cfg.ID != "" && cfg.ID != configID {
		writeError(w, http.StatusBadRequest, "configuration id does not match the path")
		return
	}
	cfg.ID = configID
	// A new revision numbers itself unless the client pins a version.
	h.save(w, r, cfg, "update", http.StatusOK)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, cfg *domain.PayrollConfiguration, operation string, status int) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRepository.Error())
		return
	}

	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	issues := h.validate(cfg)
	if rules.HasErrors(issues) {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationResponse{
			Valid:  false,
			Issues: issues,
		})
		return
	}

	if err := h.repo.SaveConfiguration(ctx, tenantID, cfg); err != nil {
		fail(w, r, err)
		return
	}

	if err := h.configs.Invalidate(ctx, tenantID, cfg.ID); err != nil {
		slog.Warn("failed to invalidate configuration", "configuration_id", cfg.ID, "error", err)
	}
	if err := h.configs.Store(ctx, tenantID, cfg); err != nil {
		slog.Warn("failed to cache configuration", "configuration_id", cfg.ID, "error", err)
	}
	h.publishConfiguration(ctx, tenantID, domain.TopicConfigurationSaved, cfg.ID, cfg.Version)

	metrics.RecordConfigurationChange(tenantID, operation)
	slog.Info("configuration saved",
		"configuration_id", cfg.ID,
		"tenant_id", tenantID,
		"version", cfg.Version,
		"operation", operation,
		"warnings", len(issues),
	)

	writeJSON(w, status, ConfigurationResponse{
		Configuration: cfg,
		Issues:        issues,
	})
}

// DeleteConfiguration soft-deletes a configuration.
func (h *Handler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRepository.Error())
		return
	}

	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	configID := chi.URLParam(r, "id")

	if err := h.repo.DeleteConfiguration(ctx, tenantID, configID); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.configs.Invalidate(ctx, tenantID, configID); err != nil {
		slog.Warn("failed to invalidate configuration", "configuration_id", configID, "error", err)
	}
	h.publishConfiguration(ctx, tenantID, domain.TopicConfigurationDeleted, configID, "")

	metrics.RecordConfigurationChange(tenantID, "delete")
	slog.Info("configuration deleted", "configuration_id", configID, "tenant_id", tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// ExportConfiguration downloads a configuration as a JSON document.
func (h *Handler) ExportConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Load(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}

	data, err := export.Encode(cfg)
	if err != nil {
		fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(cfg)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) publishConfiguration(ctx context.Context, tenantID, topic, configID, version string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.ConfigurationEvent{
		ConfigurationID: configID,
		TenantID:        tenantID,
		Version:         version,
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish configuration event",
			"topic", topic,
			"configuration_id", configID,
			"error", err,
		)
	}
}

// ============================================================================
// PAYSLIP HANDLERS
// ============================================================================

// PayslipRequest is the request body for the payslip endpoints.
type PayslipRequest struct {
	Record map[string]any `json:"record" validate:"required"`
}

// AsyncPayslipResponse is returned when a payslip is queued.
type AsyncPayslipResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	TraceID   string `json:"traceId"`
}

func (r PayslipRequest) record() (domain.Record, error) {
	rec, err := domain.RecordFromMap(r.Record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return rec, nil
}

// ComputePayslip computes, stores and returns a payslip.
func (h *Handler) ComputePayslip(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	configID := chi.URLParam(r, "id")

	req, err := decodeRequest[PayslipRequest](r)
	if err != nil {
		fail(w, r, err)
		return
	}
	record, err := req.record()
	if err != nil {
		fail(w, r, err)
		return
	}

	cfg, err := h.configs.Load(ctx, tenantID, configID)
	if err != nil {
		fail(w, r, err)
		return
	}

	slip, err := h.processor.Process(ctx, &payslip.PayslipInput{
		TenantID:        tenantID,
		ConfigurationID: configID,
		TraceID:         GetTraceID(ctx),
		Config:          cfg,
		Record:          record,
		StartTime:       start,
	})
	if err != nil {
		metrics.RecordPayslip(tenantID, metrics.ModeSync, "error", 0, time.Since(start).Seconds())
		fail(w, r, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePayslip(ctx, tenantID, slip); err != nil {
			slog.Error("failed to save payslip", "payslip_id", slip.ID, "error", err)
		}
	}

	metrics.RecordPayslip(tenantID, metrics.ModeSync, "success", len(slip.Warnings), time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, slip)
}

// RequestPayslip queues a payslip computation on the event bus.
func (h *Handler) RequestPayslip(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	req, err := decodeRequest[PayslipRequest](r)
	if err != nil {
		fail(w, r, err)
		return
	}
	record, err := req.record()
	if err != nil {
		fail(w, r, err)
		return
	}

	msg := domain.PayslipRequest{
		RequestID:       uuid.New().String(),
		TenantID:        tenantID,
		ConfigurationID: chi.URLParam(r, "id"),
		TraceID:         GetTraceID(ctx),
		Record:          record,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicPayslipRequested, payload); err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncPayslipResponse{
		RequestID: msg.RequestID,
		Status:    "accepted",
		TraceID:   msg.TraceID,
	})
}

// GetPayslip retrieves a stored payslip by ID.
func (h *Handler) GetPayslip(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, errNoRepository.Error())
		return
	}

	slip, err := h.repo.GetPayslip(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// EvaluateChainRequest is the request body for POST /rules/evaluate.
type EvaluateChainRequest struct {
	Rules  []domain.ConditionalRule `json:"rules" validate:"required,min=1"`
	Record map[string]any           `json:"record" validate:"required"`
	Strict bool                     `json:"strict,omitempty"`
}

// EvaluateChain evaluates an ad-hoc rule chain against a record.
func (h *Handler) EvaluateChain(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest[EvaluateChainRequest](r)
	if err != nil {
		fail(w, r, err)
		return
	}
	record, err := domain.RecordFromMap(req.Record)
	if err != nil {
		fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	eval := h.processor.Evaluator
	eval.StrictFields = eval.StrictFields || req.Strict

	result, err := eval.Chain(req.Rules, record)
	if err != nil {
		metrics.RecordRuleEvaluation("chain", "error")
		fail(w, r, err)
		return
	}
	metrics.RecordRuleEvaluation("chain", "success")
	writeJSON(w, http.StatusOK, result)
}

// BracketRequest is the request body for POST /rules/brackets.
type BracketRequest struct {
	Brackets []domain.TaxBracket `json:"brackets" validate:"required,min=1"`
	Amount   float64             `json:"amount"`
	Mode     domain.BracketMode  `json:"mode" validate:"required,oneof=marginal slab"`
}

// BracketResponse is the response for POST /rules/brackets.
type BracketResponse struct {
	Amount float64            `json:"amount"`
	Mode   domain.BracketMode `json:"mode"`
	Result float64            `json:"result"`
}

// ApplyBrackets applies an ad-hoc bracket scale to an amount.
func (h *Handler) ApplyBrackets(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest[BracketRequest](r)
	if err != nil {
		fail(w, r, err)
		return
	}

	result, err := rules.ApplyBrackets(req.Brackets, req.Amount, req.Mode)
	if err != nil {
		metrics.RecordRuleEvaluation("brackets", "error")
		fail(w, r, err)
		return
	}
	metrics.RecordRuleEvaluation("brackets", "success")
	writeJSON(w, http.StatusOK, BracketResponse{
		Amount: req.Amount,
		Mode:   req.Mode,
		Result: result,
	})
}
