package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBus_EmitCallsAllHandlers(t *testing.T) {
	bus := newTestBus()

	var got []string
	bus.Subscribe(UserSendOTP, func(_ context.Context, p any) error {
		got = append(got, "first:"+p.(SecretIssued).Recipient)
		return nil
	})
	bus.Subscribe(UserSendOTP, func(_ context.Context, p any) error {
		got = append(got, "second")
		return nil
	})
	bus.Subscribe(UserForgotPassword, func(context.Context, any) error {
		t.Fatal("wrong event")
		return nil
	})

	require.NoError(t, bus.Emit(context.Background(), UserSendOTP, SecretIssued{Recipient: "a@b.c"}))
	assert.Equal(t, []string{"first:a@b.c", "second"}, got)
}

func TestBus_EmitJoinsErrors(t *testing.T) {
	bus := newTestBus()
	errA := errors.New("a")
	errB := errors.New("b")
	bus.Subscribe(UserChangeEmail, func(context.Context, any) error { return errA })
	bus.Subscribe(UserChangeEmail, func(context.Context, any) error { return errB })

	err := bus.Emit(context.Background(), UserChangeEmail, nil)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestBus_EmitWithoutSubscribers(t *testing.T) {
	assert.Error(t, newTestBus().Emit(context.Background(), UserSendOTP, nil))
}
