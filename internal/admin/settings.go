// Package admin stores runtime service flags and an audit trail in the
// database, so operators can pause uploads, jobs or streams without a
// restart.
package admin

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Flag keys the service consults. Unset keys read as enabled.
const (
	KeyUploadsEnabled = "uploads_enabled"
	KeyJobsEnabled    = "jobs_enabled"
	KeyStreamsEnabled = "streams_enabled"
)

// ensureTables creates the settings and audit tables if missing.
func ensureTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS service_settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );
        CREATE TABLE IF NOT EXISTS admin_audit_log (
            id BIGSERIAL PRIMARY KEY,
            action TEXT NOT NULL,
            resource_type TEXT NOT NULL,
            resource_id TEXT,
            details JSONB,
            ip_address TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`)
	return err
}

// Get returns the value for a key or empty string if not set.
func Get(ctx context.Context, db *sql.DB, key string) (string, error) {
	if err := ensureTables(ctx, db); err != nil {
		return "", err
	}
	row := db.QueryRowContext(ctx, `SELECT value FROM service_settings WHERE key=$1`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// Set sets the value for a key.
func Set(ctx context.Context, db *sql.DB, key, value string) error {
	if err := ensureTables(ctx, db); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO service_settings(key, value)
        VALUES($1,$2)
        ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`, key, strings.TrimSpace(value))
	return err
}

// GetBool reads a boolean with default if missing.
func GetBool(ctx context.Context, db *sql.DB, key string, def bool) (bool, error) {
	v, err := Get(ctx, db, key)
	if err != nil {
		return def, err
	}
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return def, nil
	}
}

// AuditEntry is one recorded admin action.
type AuditEntry struct {
	ID           int64                 `json:"id"`
	Action       string                `json:"action"`
	ResourceType string                `json:"resource_type"`
	ResourceID   string                `json:"resource_id,omitempty"`
	Details      pqtype.NullRawMessage `json:"details,omitempty"`
	IPAddress    string                `json:"ip_address,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// LogAction records an admin action in the audit trail. Details may be nil.
func LogAction(ctx context.Context, db *sql.DB, action, resourceType, resourceID string, details []byte, ip string) error {
	if err := ensureTables(ctx, db); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO admin_audit_log(action, resource_type, resource_id, details, ip_address)
        VALUES($1,$2,$3,$4,$5)`,
		action, resourceType,
		sql.NullString{String: resourceID, Valid: resourceID != ""},
		pqtype.NullRawMessage{RawMessage: details, Valid: len(details) > 0},
		sql.NullString{String: ip, Valid: ip != ""})
	return err
}

// ListAudit returns audit entries, newest first.
func ListAudit(ctx context.Context, db *sql.DB, limit, offset int) ([]AuditEntry, error) {
	if err := ensureTables(ctx, db); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
        SELECT id, action, resource_type, COALESCE(resource_id, ''), details, COALESCE(ip_address, ''), created_at
        FROM admin_audit_log
        ORDER BY id DESC
        LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Details, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
