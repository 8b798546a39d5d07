// Package domain defines the core interfaces and types for Paygrid.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Payroll configuration operations
	SaveConfiguration(ctx context.Context, tenantID string, cfg *PayrollConfiguration) error
	GetConfiguration(ctx context.Context, tenantID string, configID string) (*PayrollConfiguration, error)
	ListConfigurations(ctx context.Context, tenantID string) ([]*ConfigurationSummary, error)
	DeleteConfiguration(ctx context.Context, tenantID string, configID string) error

	// Payslip results
	SavePayslip(ctx context.Context, tenantID string, slip *Payslip) error
	GetPayslip(ctx context.Context, tenantID string, payslipID string) (*Payslip, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ConfigurationSummary is a listing row for a stored configuration.
type ConfigurationSummary struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Country   string    `json:"country"`
	Currency  string    `json:"currency"`
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
