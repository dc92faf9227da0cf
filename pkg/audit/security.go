// Package audit logs security-relevant events in structured JSON for SIEM
// consumption.
package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a query
	// literal.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryRejected is logged when the guard rejects a query for any
	// other violation.
	EventQueryRejected SecurityEventType = "query_rejected"
	// EventImpersonationAttempt is logged when request content carries a
	// smuggled system-role marker.
	EventImpersonationAttempt SecurityEventType = "impersonation_attempt"
)

// SecurityEvent is one auditable event with the context a SIEM needs.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventID   uuid.UUID         `json:"event_id"`
	EventType SecurityEventType `json:"event_type"`
	TenantID  string            `json:"tenant_id"`
	Severity  string            `json:"severity"` // info, warning, critical
	Details   any               `json:"details"`
}

// QueryRejectionDetails describes a guarded query that was turned away.
type QueryRejectionDetails struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// SecurityAuditor writes security events on a dedicated logger namespace so
// SIEM pipelines can filter them without parsing application logs.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor on the security_audit namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a libinjection hit. Always critical.
func (a *SecurityAuditor) LogInjectionAttempt(tenantID, fingerprint, queryFingerprint string) {
	a.log(SecurityEvent{
		EventType: EventSQLInjectionAttempt,
		TenantID:  tenantID,
		Severity:  "critical",
		Details: QueryRejectionDetails{
			Code:        "DANGEROUS_OPERATION",
			Message:     "sql injection pattern detected",
			Fingerprint: fingerprint,
		},
	}, queryFingerprint)
}

// LogQueryRejected records a guard violation.
func (a *SecurityAuditor) LogQueryRejected(tenantID, code, message, queryFingerprint string) {
	a.log(SecurityEvent{
		EventType: EventQueryRejected,
		TenantID:  tenantID,
		Severity:  "warning",
		Details: QueryRejectionDetails{
			Code:    code,
			Message: message,
		},
	}, queryFingerprint)
}

// LogImpersonationAttempt records rejected request content that tried to
// assume a system role. The content itself is never logged.
func (a *SecurityAuditor) LogImpersonationAttempt(tenantID string) {
	a.log(SecurityEvent{
		EventType: EventImpersonationAttempt,
		TenantID:  tenantID,
		Severity:  "warning",
	}, "")
}

func (a *SecurityAuditor) log(event SecurityEvent, queryFingerprint string) {
	event.Timestamp = time.Now().UTC()
	event.EventID = uuid.New()

	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_id", event.EventID.String()),
		zap.String("event_type", string(event.EventType)),
		zap.String("tenant_id", event.TenantID),
		zap.String("severity", event.Severity),
	}
	if event.Details != nil {
		fields = append(fields, zap.Any("details", event.Details))
	}
	if queryFingerprint != "" {
		fields = append(fields, zap.String("query_fingerprint", queryFingerprint))
	}

	a.logger.Warn("security event", fields...)
}
