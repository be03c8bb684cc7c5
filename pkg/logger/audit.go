package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLogin               = "login"
	EventLogout              = "logout"
	EventRegister            = "register"
	EventOAuthLogin          = "oauth_login"
	EventOTPIssued           = "otp_issued"
	EventEmailVerified       = "email_verified"
	EventPasswordResetIssued = "password_reset_issued"
	EventPasswordReset       = "password_reset"
	EventPasswordChange      = "password_change"
	EventEmailChangeIssued   = "email_change_issued"
	EventEmailChanged        = "email_changed"
	EventTwoFactorEnabled    = "two_factor_enabled"
	EventTwoFactorDisabled   = "two_factor_disabled"
	EventAccountDeleted      = "account_deleted"
	EventUserDeactivated     = "user_deactivated"
	EventUserActivated       = "user_activated"
	EventAdminLogin          = "admin_login"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Role          string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records through a structured logger.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log records event at info level on success and warn level otherwise.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Role != "" {
		attrs = append(attrs, slog.String("role", event.Role))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// Success is shorthand for a successful event on userID.
func (al *AuditLogger) Success(ctx context.Context, eventType, userID string) {
	al.Log(ctx, AuditEvent{EventType: eventType, UserID: userID, Success: true})
}

// Failure is shorthand for a failed event on userID.
func (al *AuditLogger) Failure(ctx context.Context, eventType, userID, reason string) {
	al.Log(ctx, AuditEvent{EventType: eventType, UserID: userID, FailureReason: reason})
}
