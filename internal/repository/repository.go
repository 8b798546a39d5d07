// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/opensource-finance/paygrid/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveConfiguration stores a new revision of a configuration.
// A missing ID is generated; a missing Version becomes the revision number.
// CreatedAt is carried over from the first revision.
func (r *SQLRepository) SaveConfiguration(ctx context.Context, tenantID string, cfg *domain.PayrollConfiguration) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if cfg == nil {
		return fmt.Errorf("%w: configuration is required", ErrInvalidInput)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Truncate(time.Microsecond)

	var revision int
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, r.rebind(`
		SELECT revision, created_at
		FROM configurations
		WHERE tenant_id = ? AND id = ?
		ORDER BY revision DESC
		LIMIT 1
	`), tenantID, cfg.ID).Scan(&revision, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		revision = 0
		createdAt = now
	case err != nil:
		return err
	}
	revision++

	cfg.TenantID = tenantID
	cfg.CreatedAt = &createdAt
	cfg.UpdatedAt = &now
	if cfg.Version == "" {
		cfg.Version = strconv.Itoa(revision)
	}

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO configurations (
			id, tenant_id, revision, name, country, currency, version, document, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`),
		cfg.ID, tenantID, revision, cfg.Name, cfg.Country, cfg.Currency,
		cfg.Version, string(doc), createdAt, now,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetConfiguration retrieves the latest active revision with tenant isolation.
func (r *SQLRepository) GetConfiguration(ctx context.Context, tenantID string, configID string) (*domain.PayrollConfiguration, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT document
		FROM configurations
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY revision DESC
		LIMIT 1
	`

	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, configID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg domain.PayrollConfiguration
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", configID, err)
	}
	return &cfg, nil
}

// ListConfigurations lists the latest active revision of every configuration
// of a tenant, ordered by name.
func (r *SQLRepository) ListConfigurations(ctx context.Context, tenantID string) ([]*domain.ConfigurationSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT c.id, c.tenant_id, c.name, c.country, c.currency, c.version, c.updated_at
		FROM configurations c
		WHERE c.tenant_id = ? AND c.enabled = 1
		  AND c.revision = (
			SELECT MAX(l.revision) FROM configurations l
			WHERE l.tenant_id = c.tenant_id AND l.id = c.id
		  )
		ORDER BY c.name, c.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []*domain.ConfigurationSummary{}
	for rows.Next() {
		var s domain.ConfigurationSummary
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Country, &s.Currency, &s.Version, &s.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}

// DeleteConfiguration soft-deletes every revision of a configuration.
func (r *SQLRepository) DeleteConfiguration(ctx context.Context, tenantID string, configID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE configurations
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, configID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePayslip stores a computed payslip with tenant isolation.
func (r *SQLRepository) SavePayslip(ctx context.Context, tenantID string, slip *domain.Payslip) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if slip == nil || slip.ID == "" {
		return fmt.Errorf("%w: payslip id is required", ErrInvalidInput)
	}
	slip.TenantID = tenantID

	doc, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("failed to encode payslip: %w", err)
	}

	query := `
		INSERT INTO payslips (
			id, tenant_id, configuration_id, gross_earnings, net_pay, timestamp, document
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		slip.ID, tenantID, slip.ConfigurationID,
		slip.GrossEarnings, slip.NetPay, slip.Timestamp, string(doc),
	)
	return err
}

// GetPayslip retrieves a payslip by ID with tenant isolation.
func (r *SQLRepository) GetPayslip(ctx context.Context, tenantID string, payslipID string) (*domain.Payslip, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT document
		FROM payslips
		WHERE tenant_id = ? AND id = ?
	`

	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, payslipID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var slip domain.Payslip
	if err := json.Unmarshal([]byte(doc), &slip); err != nil {
		return nil, fmt.Errorf("failed to parse payslip %s: %w", payslipID, err)
	}
	return &slip, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var _ domain.Repository = (*SQLRepository)(nil)
