package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/queue"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/cenkalti/backoff/v5"
)

// EventSubscriber registers event handlers
type EventSubscriber interface {
	Subscribe(name string, h events.Handler)
}

// JobQueue accepts email jobs
type JobQueue interface {
	Enqueue(job queue.Job) error
	OnFailure(hook queue.FailureHook)
}

// ActionRevoker deletes an undeliverable security action
type ActionRevoker interface {
	Revoke(ctx context.Context, actionID string) (bool, error)
}

// EmailService turns security action events into queued emails and delivers
// them. A secret whose email could not be delivered is revoked.
type EmailService struct {
	mailer      Mailer
	frontendURL string
	revoker     ActionRevoker
	logger      *slog.Logger
}

// NewEmailService creates a new EmailService
func NewEmailService(mailer Mailer, frontendURL string, revoker ActionRevoker, logger *slog.Logger) *EmailService {
	return &EmailService{
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		revoker:     revoker,
		logger:      logger,
	}
}

// Register subscribes to every security action event and hooks the
// compensation into q.
func (s *EmailService) Register(bus EventSubscriber, q JobQueue) {
	for _, name := range []string{events.UserSendOTP, events.UserForgotPassword, events.UserChangeEmail} {
		bus.Subscribe(name, s.enqueueTo(q, name))
	}
	q.OnFailure(s.onFailure)
}

func (s *EmailService) enqueueTo(q JobQueue, name string) events.Handler {
	return func(ctx context.Context, payload any) error {
		ev, ok := payload.(events.SecretIssued)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", payload, name)
		}
		return q.Enqueue(queue.Job{ID: ev.ActionID, Name: name, Payload: ev})
	}
}

// Handle is the queue handler. Malformed jobs fail permanently.
func (s *EmailService) Handle(ctx context.Context, job queue.Job) error {
	ev, ok := job.Payload.(events.SecretIssued)
	if !ok {
		return backoff.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
	}
	msg, err := s.Compose(ev)
	if err != nil {
		return backoff.Permanent(err)
	}
	return s.mailer.Send(ctx, msg)
}

func (s *EmailService) onFailure(ctx context.Context, job queue.Job, err error) {
	deleted, rerr := s.revoker.Revoke(ctx, job.ID)
	if rerr != nil {
		s.logger.Error("failed to revoke undelivered security action",
			slog.String("action_id", job.ID), slog.Any("error", rerr))
		return
	}
	s.logger.Warn("security action email undeliverable",
		slog.String("action_id", job.ID),
		slog.String("job", job.Name),
		slog.Bool("revoked", deleted),
		slog.Any("error", err))
}

// Compose builds the plain text email for ev.
func (s *EmailService) Compose(ev events.SecretIssued) (Message, error) {
	if ev.Recipient == "" {
		return Message{}, fmt.Errorf("action %s has no recipient", ev.ActionID)
	}
	expires := ev.ExpiredAt.UTC().Format(time.RFC1123)

	msg := Message{To: ev.Recipient}
	switch ev.Type {
	case models.SecurityActionOTP:
		msg.Subject = "Verify your email address"
		msg.Text = fmt.Sprintf("Hi %s,\n\nYour verification code is %s.\nIt expires %s.\n",
			ev.Name, ev.Secret, expires)
	case models.SecurityActionPasswordReset:
		link := s.frontendURL + "/reset-password?" + url.Values{
			"email": {ev.Recipient},
			"token": {ev.Secret},
		}.Encode()
		msg.Subject = "Reset your password"
		msg.Text = fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password:\n%s\n\nThe link expires %s. "+
			"If you did not ask for a reset you can ignore this email.\n", ev.Name, link, expires)
	case models.SecurityActionChangeEmail:
		msg.Subject = "Confirm your new email address"
		msg.Text = fmt.Sprintf("Hi %s,\n\nEnter %s to confirm this address for your account.\nThe code expires %s.\n",
			ev.Name, ev.Secret, expires)
	default:
		return Message{}, fmt.Errorf("no email for action type %q", ev.Type)
	}

	s.logger.Debug("email composed",
		slog.String("action_id", ev.ActionID),
		slog.String("to", logger.SanitizedEmail(ev.Recipient)))
	return msg, nil
}
