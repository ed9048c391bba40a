// Package shared holds the audit trail writer and the idempotency key store
// used by several domain services.
package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuditLog is one row of audit_logs. Actor is free text (uploader name,
// "system" for jobs).
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the mandatory fields.
func (l AuditLog) Validate() error {
	var missing []string
	if strings.TrimSpace(l.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(l.Entity) == "" {
		missing = append(missing, "entity")
	}
	if strings.TrimSpace(l.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit log requires %s", strings.Join(missing, ", "))
	}
	return nil
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger returns a logger writing through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

// Record persists the entry; a zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.Actor == "" {
		log.Actor = "system"
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	if log.At.IsZero() {
		log.At = l.now()
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.Actor, log.Action, log.Entity, log.EntityID, meta, log.At.UTC())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
