package repository

// Schema definitions for the Paygrid database.
// Compatible with both SQLite and PostgreSQL.

// schemaConfigurations keeps every saved revision of a configuration.
// The document column holds the full configuration as JSON.
const schemaConfigurations = `
CREATE TABLE IF NOT EXISTS configurations (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    revision INTEGER NOT NULL,
    name TEXT NOT NULL,
    country TEXT NOT NULL,
    currency TEXT NOT NULL,
    version TEXT NOT NULL,
    document TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, revision)
);

CREATE INDEX IF NOT EXISTS idx_configurations_tenant ON configurations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_configurations_enabled ON configurations(tenant_id, enabled);
CREATE INDEX IF NOT EXISTS idx_configurations_country ON configurations(tenant_id, country);
`

const schemaPayslips = `
CREATE TABLE IF NOT EXISTS payslips (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    configuration_id TEXT NOT NULL,
    gross_earnings REAL NOT NULL,
    net_pay REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payslips_tenant ON payslips(tenant_id);
CREATE INDEX IF NOT EXISTS idx_payslips_configuration ON payslips(tenant_id, configuration_id);
CREATE INDEX IF NOT EXISTS idx_payslips_timestamp ON payslips(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaConfigurations,
		schemaPayslips,
	}
}
