package models

import (
	"encoding/json"
	"time"
)

// SecurityActionType is the purpose a secret was issued for.
type SecurityActionType string

const (
	SecurityActionOTP           SecurityActionType = "OTP"
	SecurityActionPasswordReset SecurityActionType = "PASSWORD_RESET"
	SecurityActionChangeEmail   SecurityActionType = "CHANGE_EMAIL"
)

// Valid reports whether t is a known action type.
func (t SecurityActionType) Valid() bool {
	switch t {
	case SecurityActionOTP, SecurityActionPasswordReset, SecurityActionChangeEmail:
		return true
	}
	return false
}

// SecurityActionStatus is the persisted lifecycle state.
type SecurityActionStatus string

const (
	SecurityActionPending SecurityActionStatus = "PENDING"
	SecurityActionUsed    SecurityActionStatus = "USED"
	SecurityActionExpired SecurityActionStatus = "EXPIRED"
)

// SecurityAction is a single use, time boxed secret owned by one user.
// Only the hash of the secret is persisted.
type SecurityAction struct {
	ID         string               `json:"id"`
	UserID     string               `json:"userId"`
	Type       SecurityActionType   `json:"type"`
	SecretHash string               `json:"-"`
	Status     SecurityActionStatus `json:"status"`
	Payload    json.RawMessage      `json:"payload,omitempty"`
	ExpiredAt  time.Time            `json:"expiredAt"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// IsExpired reports whether the action can no longer be consumed at now.
func (a *SecurityAction) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiredAt)
}

// IsConsumable reports whether the action is PENDING and unexpired at now.
func (a *SecurityAction) IsConsumable(now time.Time) bool {
	return a.Status == SecurityActionPending && !a.IsExpired(now)
}

// EffectiveStatus derives EXPIRED for pending actions past their deadline.
func (a *SecurityAction) EffectiveStatus(now time.Time) SecurityActionStatus {
	if a.Status == SecurityActionPending && a.IsExpired(now) {
		return SecurityActionExpired
	}
	return a.Status
}

// ChangeEmailPayload is stored on CHANGE_EMAIL actions.
type ChangeEmailPayload struct {
	NewEmail string `json:"newEmail"`
}
