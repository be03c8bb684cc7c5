package models

import (
	"time"
)

// User roles. Admins are stored separately, see Admin.
const (
	RoleCustomer = "customer"
	RoleClient   = "client"
)

// OAuth providers
const (
	OAuthProviderGoogle = "google"
	OAuthProviderApple  = "apple"
)

type User struct {
	ID                  string     `json:"id"`
	Name                *string    `json:"name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	Phone               string     `json:"phone"`
	NotificationEnabled bool       `json:"notificationEnabled"`
	EmailVerifiedAt     *time.Time `json:"emailVerifiedAt"`
	TwoFactorEnabled    bool       `json:"twoFactorAuthenticationEnabled"`
	TwoFactorSecret     *string    `json:"-"`
	AvatarID            *string    `json:"avatarId"`
	OAuthProvider       *string    `json:"oauthProvider,omitempty"`
	OAuthProviderID     *string    `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	DeactivatedAt       *time.Time `json:"deactivatedAt"`
	DeletedAt           *time.Time `json:"-"`
}

// IsVerified reports whether the user completed email OTP verification.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// DisplayName falls back to the email when no name is set.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}

// UserPatch lists the user columns a consumed security action may change.
// Nil fields are left untouched.
type UserPatch struct {
	EmailVerifiedAt *time.Time
	PasswordHash    *string
	Email           *string
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.EmailVerifiedAt == nil && p.PasswordHash == nil && p.Email == nil
}
