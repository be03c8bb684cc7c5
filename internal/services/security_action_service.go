package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// SecurityActionRepository defines the persistence the lifecycle needs
type SecurityActionRepository interface {
	Replace(ctx context.Context, action *models.SecurityAction) (*models.SecurityAction, error)
	Consume(ctx context.Context, userID string, actionType models.SecurityActionType, secretHash string, now time.Time, effect repositories.ActionEffect) (*models.SecurityAction, error)
	DeletePending(ctx context.Context, id string) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// EventEmitter publishes domain events
type EventEmitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// ActionMetrics records lifecycle outcomes
type ActionMetrics interface {
	SecurityAction(actionType, outcome string)
	Reaped(n int64)
}

// IssueRequest describes a secret to issue.
type IssueRequest struct {
	User      *models.User
	Type      models.SecurityActionType
	Recipient string // defaults to the user's email
	Payload   any
}

type actionKind struct {
	ttl        time.Duration
	event      string
	auditEvent string
	generate   func() (string, error)
}

// SecurityActionService issues and consumes single use, time boxed secrets.
// At most one PENDING action exists per user and type; consumption is a
// single conditional update, so a secret succeeds at most once.
type SecurityActionService struct {
	repo    SecurityActionRepository
	events  EventEmitter
	metrics ActionMetrics
	audit   *logger.AuditLogger
	logger  *slog.Logger
	kinds   map[models.SecurityActionType]actionKind
	now     func() time.Time
}

// NewSecurityActionService creates a new SecurityActionService
func NewSecurityActionService(
	repo SecurityActionRepository,
	emitter EventEmitter,
	metrics ActionMetrics,
	cfg config.AuthConfig,
	log *slog.Logger,
) *SecurityActionService {
	return &SecurityActionService{
		repo:    repo,
		events:  emitter,
		metrics: metrics,
		audit:   logger.NewAuditLogger(log),
		logger:  log,
		now:     time.Now,
		kinds: map[models.SecurityActionType]actionKind{
			models.SecurityActionOTP: {
				ttl: cfg.OTPTTL, event: events.UserSendOTP,
				auditEvent: logger.EventOTPIssued, generate: auth.GenerateOTP,
			},
			models.SecurityActionPasswordReset: {
				ttl: cfg.PasswordResetTTL, event: events.UserForgotPassword,
				auditEvent: logger.EventPasswordResetIssued, generate: auth.GenerateResetToken,
			},
			models.SecurityActionChangeEmail: {
				ttl: cfg.ChangeEmailTTL, event: events.UserChangeEmail,
				auditEvent: logger.EventEmailChangeIssued, generate: auth.GenerateOTP,
			},
		},
	}
}

// SetClock replaces the clock used for expiry.
func (s *SecurityActionService) SetClock(now func() time.Time) {
	s.now = now
}

// Issue supersedes any PENDING action of the same type, persists a fresh one
// and announces it. The event is emitted only after the action is stored; if
// emission fails the action is deleted again.
func (s *SecurityActionService) Issue(ctx context.Context, req IssueRequest) (*models.SecurityAction, error) {
	kind, ok := s.kinds[req.Type]
	if !ok {
		return nil, fmt.Errorf("unknown security action type %q", req.Type)
	}
	if err := s.guard(req.User, req.Type); err != nil {
		return nil, err
	}

	var payload json.RawMessage
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode action payload: %w", err)
		}
		payload = raw
	}

	action, secret, err := s.persist(ctx, req.User.ID, req.Type, kind, payload)
	if err != nil {
		s.metric(req.Type, "error")
		return nil, err
	}

	recipient := req.Recipient
	if recipient == "" {
		recipient = req.User.Email
	}

	event := events.SecretIssued{
		ActionID:  action.ID,
		UserID:    req.User.ID,
		Role:      req.User.Role,
		Type:      req.Type,
		Recipient: recipient,
		Name:      req.User.DisplayName(),
		Secret:    secret,
		ExpiredAt: action.ExpiredAt,
	}
	if err := s.events.Emit(ctx, kind.event, event); err != nil {
		s.metric(req.Type, "emit_failed")
		if _, rerr := s.Revoke(context.WithoutCancel(ctx), action.ID); rerr != nil {
			s.logger.Error("failed to revoke undeliverable action",
				slog.String("action_id", action.ID), slog.Any("error", rerr))
		}
		return nil, models.Infra("dispatch security action", err)
	}

	s.metric(req.Type, "issued")
	s.audit.Success(ctx, kind.auditEvent, req.User.ID)
	s.logger.Info("security action issued",
		slog.String("action_id", action.ID),
		slog.String("user_id", req.User.ID),
		slog.String("type", string(req.Type)),
		slog.Time("expired_at", action.ExpiredAt))

	return action, nil
}

// persist stores a new PENDING action. A unique violation means a concurrent
// issue won the race or the secret collided; one retry with a fresh secret
// resolves both.
func (s *SecurityActionService) persist(
	ctx context.Context,
	userID string,
	actionType models.SecurityActionType,
	kind actionKind,
	payload json.RawMessage,
) (*models.SecurityAction, string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		secret, err := kind.generate()
		if err != nil {
			return nil, "", models.Infra("generate secret", err)
		}

		now := s.now()
		action, err := s.repo.Replace(ctx, &models.SecurityAction{
			UserID:     userID,
			Type:       actionType,
			SecretHash: auth.HashSecret(secret),
			Status:     models.SecurityActionPending,
			Payload:    payload,
			ExpiredAt:  now.Add(kind.ttl),
			CreatedAt:  now,
		})
		if err == nil {
			return action, secret, nil
		}
		if !errors.Is(err, repositories.ErrActionCollision) {
			return nil, "", models.Infra("store security action", err)
		}
		lastErr = err
		s.logger.Warn("security action collided, retrying",
			slog.String("user_id", userID), slog.String("type", string(actionType)))
	}
	return nil, "", models.Infra("store security action", lastErr)
}

// Consume redeems secret for user and type, applying effect's patch in the
// same transaction. Wrong, used and expired secrets all yield
// models.ErrInvalidOrExpired.
func (s *SecurityActionService) Consume(
	ctx context.Context,
	user *models.User,
	actionType models.SecurityActionType,
	secret string,
	effect repositories.ActionEffect,
) (*models.SecurityAction, error) {
	if err := s.guard(user, actionType); err != nil {
		return nil, err
	}
	if secret == "" {
		s.metric(actionType, "rejected")
		return nil, models.ErrInvalidOrExpired
	}

	action, err := s.repo.Consume(ctx, user.ID, actionType, auth.HashSecret(secret), s.now(), effect)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metric(actionType, "rejected")
			return nil, models.ErrInvalidOrExpired
		}
		if models.IsDomainError(err) {
			return nil, err
		}
		s.metric(actionType, "error")
		return nil, models.Infra("consume security action", err)
	}

	s.metric(actionType, "consumed")
	return action, nil
}

// Revoke deletes a still PENDING action whose secret could not be delivered.
func (s *SecurityActionService) Revoke(ctx context.Context, actionID string) (bool, error) {
	deleted, err := s.repo.DeletePending(ctx, actionID)
	if err != nil {
		return false, models.Infra("revoke security action", err)
	}
	if deleted {
		s.logger.Warn("security action revoked", slog.String("action_id", actionID))
	}
	return deleted, nil
}

// ReapExpired marks every overdue PENDING action EXPIRED.
func (s *SecurityActionService) ReapExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, models.Infra("reap security actions", err)
	}
	if s.metrics != nil {
		s.metrics.Reaped(n)
	}
	return n, nil
}

// guard rejects actions whose goal is already met.
func (s *SecurityActionService) guard(user *models.User, actionType models.SecurityActionType) error {
	if user == nil {
		return models.ErrNotFound
	}
	if actionType == models.SecurityActionOTP && user.IsVerified() {
		return models.NewConflictError("otpCode", "email is already verified")
	}
	return nil
}

func (s *SecurityActionService) metric(actionType models.SecurityActionType, outcome string) {
	if s.metrics != nil {
		s.metrics.SecurityAction(string(actionType), outcome)
	}
}

// VerifyEmail is the effect of a consumed OTP.
func VerifyEmail(at time.Time) repositories.ActionEffect {
	return func(*models.SecurityAction) (models.UserPatch, error) {
		return models.UserPatch{EmailVerifiedAt: &at}, nil
	}
}

// SetPassword is the effect of a consumed password reset token.
func SetPassword(hash string) repositories.ActionEffect {
	return func(*models.SecurityAction) (models.UserPatch, error) {
		return models.UserPatch{PasswordHash: &hash}, nil
	}
}

// ApplyEmailChange moves the user to the address stored on the action.
func ApplyEmailChange(action *models.SecurityAction) (models.UserPatch, error) {
	var payload models.ChangeEmailPayload
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return models.UserPatch{}, models.Infra("decode change email payload", err)
	}
	if payload.NewEmail == "" {
		return models.UserPatch{}, models.Infra("decode change email payload", errors.New("missing new email"))
	}
	return models.UserPatch{Email: &payload.NewEmail}, nil
}
