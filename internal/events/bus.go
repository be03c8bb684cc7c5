// Package events is an in-process publish/subscribe bus for domain events.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Event names
const (
	UserSendOTP        = "user.send-otp"
	UserForgotPassword = "user.forgot-password"
	UserChangeEmail    = "user.change-email"
)

// SecretIssued is the payload of every security action event. Secret is the
// plaintext and must never be logged.
type SecretIssued struct {
	ActionID  string
	UserID    string
	Role      string
	Type      models.SecurityActionType
	Recipient string
	Name      string
	Secret    string
	ExpiredAt time.Time
}

// Handler reacts to one event. Handlers run synchronously on the emitting
// goroutine and must hand slow work off (e.g. to a queue).
type Handler func(ctx context.Context, payload any) error

// Bus dispatches events to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{handlers: make(map[string][]Handler), logger: logger}
}

// Subscribe registers h for name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit calls every handler for name and joins their errors. An event without
// subscribers is an error, since a security secret nobody delivers is useless.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for event %s", name)
	}

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Error("event handler failed",
				slog.String("event", name),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
