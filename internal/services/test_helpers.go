package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/oauth"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/BradenHooton/gatekeeper/internal/queue"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/storage"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testHasher hashes at the cheapest bcrypt cost.
var testHasher = pkgauth.NewPasswordHasher(bcrypt.MinCost)

// NewTestUser creates a verified customer with password "Str0ngPassw0rd!"
func NewTestUser(id, email string) *models.User {
	hash, err := testHasher.Hash("Str0ngPassw0rd!")
	if err != nil {
		panic(err)
	}
	verified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.User{
		ID:                  id,
		Email:               email,
		PasswordHash:        hash,
		Role:                models.RoleCustomer,
		NotificationEnabled: true,
		EmailVerifiedAt:     &verified,
		CreatedAt:           verified,
		UpdatedAt:           verified,
	}
}

func strPtr(s string) *string { return &s }

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc                func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc             func(ctx context.Context, email string) (*models.User, error)
	GetByOAuthFunc             func(ctx context.Context, provider, providerID string) (*models.User, error)
	CreateFunc                 func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordFunc         func(ctx context.Context, id, passwordHash string) error
	SetTwoFactorFunc           func(ctx context.Context, id string, secret *string, enabled bool) error
	SetNotificationEnabledFunc func(ctx context.Context, id string, enabled bool) error
	SetAvatarFunc              func(ctx context.Context, id string, attachmentID *string) error
	LinkOAuthFunc              func(ctx context.Context, id, provider, providerID string) (*models.User, error)
	SetDeactivatedFunc         func(ctx context.Context, id string, at *time.Time) (*models.User, error)
	SoftDeleteFunc             func(ctx context.Context, id string, at time.Time) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByOAuth(ctx context.Context, provider, providerID string) (*models.User, error) {
	if m.GetByOAuthFunc != nil {
		return m.GetByOAuthFunc(ctx, provider, providerID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	created := *user
	created.ID = "new-user"
	return &created, nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) SetTwoFactor(ctx context.Context, id string, secret *string, enabled bool) error {
	if m.SetTwoFactorFunc != nil {
		return m.SetTwoFactorFunc(ctx, id, secret, enabled)
	}
	return nil
}

func (m *MockUserRepository) SetNotificationEnabled(ctx context.Context, id string, enabled bool) error {
	if m.SetNotificationEnabledFunc != nil {
		return m.SetNotificationEnabledFunc(ctx, id, enabled)
	}
	return nil
}

func (m *MockUserRepository) SetAvatar(ctx context.Context, id string, attachmentID *string) error {
	if m.SetAvatarFunc != nil {
		return m.SetAvatarFunc(ctx, id, attachmentID)
	}
	return nil
}

func (m *MockUserRepository) LinkOAuth(ctx context.Context, id, provider, providerID string) (*models.User, error) {
	if m.LinkOAuthFunc != nil {
		return m.LinkOAuthFunc(ctx, id, provider, providerID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) SetDeactivated(ctx context.Context, id string, at *time.Time) (*models.User, error) {
	if m.SetDeactivatedFunc != nil {
		return m.SetDeactivatedFunc(ctx, id, at)
	}
	return &models.User{ID: id, DeactivatedAt: at}, nil
}

func (m *MockUserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, id, at)
	}
	return nil
}

// MockDeviceRepository implements DeviceRepository for testing
type MockDeviceRepository struct {
	UpsertFunc    func(ctx context.Context, userID, deviceID string, fcmToken *string) (*models.UserDevice, error)
	DeleteFunc    func(ctx context.Context, userID, deviceID string) error
	DeleteAllFunc func(ctx context.Context, userID string) error
}

func (m *MockDeviceRepository) Upsert(ctx context.Context, userID, deviceID string, fcmToken *string) (*models.UserDevice, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, userID, deviceID, fcmToken)
	}
	return &models.UserDevice{ID: "device-row", UserID: userID, DeviceID: deviceID, FCMToken: fcmToken}, nil
}

func (m *MockDeviceRepository) Delete(ctx context.Context, userID, deviceID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, deviceID)
	}
	return nil
}

func (m *MockDeviceRepository) DeleteAll(ctx context.Context, userID string) error {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx, userID)
	}
	return nil
}

// MockTokenRevoker implements TokenRevoker for testing
type MockTokenRevoker struct {
	RevokeTokenFunc func(ctx context.Context, jti, subjectID, audience, reason string, expiresAt time.Time) error
}

func (m *MockTokenRevoker) RevokeToken(ctx context.Context, jti, subjectID, audience, reason string, expiresAt time.Time) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, subjectID, audience, reason, expiresAt)
	}
	return nil
}

// MockSecurityActions implements SecurityActions for testing
type MockSecurityActions struct {
	IssueFunc   func(ctx context.Context, req IssueRequest) (*models.SecurityAction, error)
	ConsumeFunc func(ctx context.Context, user *models.User, actionType models.SecurityActionType, secret string, effect repositories.ActionEffect) (*models.SecurityAction, error)

	mu     sync.Mutex
	Issued []IssueRequest
}

func (m *MockSecurityActions) Issue(ctx context.Context, req IssueRequest) (*models.SecurityAction, error) {
	m.mu.Lock()
	m.Issued = append(m.Issued, req)
	m.mu.Unlock()
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, req)
	}
	return &models.SecurityAction{ID: "action-1", UserID: req.User.ID, Type: req.Type, Status: models.SecurityActionPending}, nil
}

func (m *MockSecurityActions) Consume(ctx context.Context, user *models.User, actionType models.SecurityActionType, secret string, effect repositories.ActionEffect) (*models.SecurityAction, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, user, actionType, secret, effect)
	}
	return nil, models.ErrInvalidOrExpired
}

// MockSecurityActionRepository implements SecurityActionRepository for testing
type MockSecurityActionRepository struct {
	ReplaceFunc       func(ctx context.Context, action *models.SecurityAction) (*models.SecurityAction, error)
	ConsumeFunc       func(ctx context.Context, userID string, actionType models.SecurityActionType, secretHash string, now time.Time, effect repositories.ActionEffect) (*models.SecurityAction, error)
	DeletePendingFunc func(ctx context.Context, id string) (bool, error)
	ExpireOverdueFunc func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockSecurityActionRepository) Replace(ctx context.Context, action *models.SecurityAction) (*models.SecurityAction, error) {
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, action)
	}
	stored := *action
	stored.ID = "action-1"
	return &stored, nil
}

func (m *MockSecurityActionRepository) Consume(ctx context.Context, userID string, actionType models.SecurityActionType, secretHash string, now time.Time, effect repositories.ActionEffect) (*models.SecurityAction, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, userID, actionType, secretHash, now, effect)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecurityActionRepository) DeletePending(ctx context.Context, id string) (bool, error) {
	if m.DeletePendingFunc != nil {
		return m.DeletePendingFunc(ctx, id)
	}
	return true, nil
}

func (m *MockSecurityActionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	if m.ExpireOverdueFunc != nil {
		return m.ExpireOverdueFunc(ctx, now)
	}
	return 0, nil
}

// InMemorySecurityActionRepository keeps actions in a slice and applies the
// same conditions as the SQL repository.
type InMemorySecurityActionRepository struct {
	mu      sync.Mutex
	seq     int
	Actions []*models.SecurityAction
	Patches []models.UserPatch
}

func (r *InMemorySecurityActionRepository) Replace(ctx context.Context, action *models.SecurityAction) (*models.SecurityAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.Actions[:0]
	for _, a := range r.Actions {
		if a.UserID == action.UserID && a.Type == action.Type && a.Status == models.SecurityActionPending {
			continue
		}
		kept = append(kept, a)
	}
	r.Actions = kept

	r.seq++
	stored := *action
	stored.ID = fmt.Sprintf("action-%d", r.seq)
	r.Actions = append(r.Actions, &stored)
	out := stored
	return &out, nil
}

func (r *InMemorySecurityActionRepository) Consume(ctx context.Context, userID string, actionType models.SecurityActionType, secretHash string, now time.Time, effect repositories.ActionEffect) (*models.SecurityAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.Actions {
		if a.UserID != userID || a.Type != actionType || a.SecretHash != secretHash ||
			a.Status != models.SecurityActionPending || !a.ExpiredAt.After(now) {
			continue
		}
		if effect != nil {
			patch, err := effect(a)
			if err != nil {
				return nil, err
			}
			r.Patches = append(r.Patches, patch)
		}
		a.Status = models.SecurityActionUsed
		out := *a
		return &out, nil
	}
	return nil, models.ErrNotFound
}

func (r *InMemorySecurityActionRepository) DeletePending(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.Actions {
		if a.ID == id && a.Status == models.SecurityActionPending {
			r.Actions = append(r.Actions[:i], r.Actions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemorySecurityActionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.Actions {
		if a.Status == models.SecurityActionPending && !a.ExpiredAt.After(now) {
			a.Status = models.SecurityActionExpired
			n++
		}
	}
	return n, nil
}

// Pending returns the PENDING actions of one user and type.
func (r *InMemorySecurityActionRepository) Pending(userID string, actionType models.SecurityActionType) []*models.SecurityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SecurityAction
	for _, a := range r.Actions {
		if a.UserID == userID && a.Type == actionType && a.Status == models.SecurityActionPending {
			out = append(out, a)
		}
	}
	return out
}

// MockEventEmitter records emitted events
type MockEventEmitter struct {
	EmitFunc func(ctx context.Context, name string, payload any) error

	mu      sync.Mutex
	Emitted []string
	Last    any
}

func (m *MockEventEmitter) Emit(ctx context.Context, name string, payload any) error {
	m.mu.Lock()
	m.Emitted = append(m.Emitted, name)
	m.Last = payload
	m.mu.Unlock()
	if m.EmitFunc != nil {
		return m.EmitFunc(ctx, name, payload)
	}
	return nil
}

// MockActionMetrics counts recorded outcomes
type MockActionMetrics struct {
	mu       sync.Mutex
	Outcomes map[string]int
	Reaps    int64
}

func (m *MockActionMetrics) SecurityAction(actionType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Outcomes == nil {
		m.Outcomes = map[string]int{}
	}
	m.Outcomes[actionType+":"+outcome]++
}

func (m *MockActionMetrics) Reaped(n int64) {
	m.mu.Lock()
	m.Reaps += n
	m.mu.Unlock()
}

// MockTokenIssuer implements UserTokenIssuer and AdminTokenIssuer for testing
type MockTokenIssuer struct {
	IssueUserTokenFunc  func(user *models.User) (string, error)
	IssueAdminTokenFunc func(admin *models.Admin) (string, error)
}

func (m *MockTokenIssuer) IssueUserToken(user *models.User) (string, error) {
	if m.IssueUserTokenFunc != nil {
		return m.IssueUserTokenFunc(user)
	}
	return "user-token-" + user.ID, nil
}

func (m *MockTokenIssuer) IssueAdminToken(admin *models.Admin) (string, error) {
	if m.IssueAdminTokenFunc != nil {
		return m.IssueAdminTokenFunc(admin)
	}
	return "admin-token-" + admin.ID, nil
}

// MockTOTP implements TOTPValidator and TOTPEnroller for testing
type MockTOTP struct {
	EnrollFunc   func(accountName string) (*auth.TOTPEnrollment, error)
	ValidateFunc func(sealed, code string) (bool, error)
}

func (m *MockTOTP) Enroll(accountName string) (*auth.TOTPEnrollment, error) {
	if m.EnrollFunc != nil {
		return m.EnrollFunc(accountName)
	}
	return &auth.TOTPEnrollment{
		Sealed:     "sealed-secret",
		OTPAuthURL: "otpauth://totp/Gatekeeper:" + accountName + "?secret=ABC",
		QRCode:     "data:image/png;base64,AAAA",
	}, nil
}

func (m *MockTOTP) Validate(sealed, code string) (bool, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(sealed, code)
	}
	return code == "123456", nil
}

// MockAvatarImporter implements AvatarImporter for testing
type MockAvatarImporter struct {
	ImportRemoteFunc func(ctx context.Context, url string) (*models.Attachment, error)
}

func (m *MockAvatarImporter) ImportRemote(ctx context.Context, url string) (*models.Attachment, error) {
	if m.ImportRemoteFunc != nil {
		return m.ImportRemoteFunc(ctx, url)
	}
	return &models.Attachment{ID: "avatar-1", URL: "attachments/avatar.jpg"}, nil
}

// MockVerifier implements oauth.Verifier for testing
type MockVerifier struct {
	VerifyFunc func(ctx context.Context, token string) (*oauth.Identity, error)
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (*oauth.Identity, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, token)
	}
	return nil, oauth.ErrInvalidToken
}

// MockAttachmentSigner implements AttachmentSigner for testing
type MockAttachmentSigner struct {
	GetFunc func(ctx context.Context, id string) (*models.SignedAttachment, error)
}

func (m *MockAttachmentSigner) Get(ctx context.Context, id string) (*models.SignedAttachment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &models.SignedAttachment{Attachment: models.Attachment{ID: id}, SignedURL: "https://signed/" + id}, nil
}

// MockNotificationStore implements NotificationStore for testing
type MockNotificationStore struct {
	CountAndFetchFunc func(ctx context.Context, userID string, opts query.FindOptions) ([]*models.UserNotification, int, error)
	CreateFunc        func(ctx context.Context, n *models.UserNotification) (*models.UserNotification, error)
	Created           []*models.UserNotification
}

func (m *MockNotificationStore) Create(ctx context.Context, n *models.UserNotification) (*models.UserNotification, error) {
	m.Created = append(m.Created, n)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, n)
	}
	return n, nil
}

func (m *MockNotificationStore) ForUser(userID string) query.Finder[*models.UserNotification] {
	return query.FinderFunc[*models.UserNotification](func(ctx context.Context, opts query.FindOptions) ([]*models.UserNotification, int, error) {
		if m.CountAndFetchFunc != nil {
			return m.CountAndFetchFunc(ctx, userID, opts)
		}
		return nil, 0, nil
	})
}

// MockAdminRepository implements AdminRepository for testing
type MockAdminRepository struct {
	GetByEmailFunc      func(ctx context.Context, email string) (*models.Admin, error)
	CreateIfMissingFunc func(ctx context.Context, admin *models.Admin) (bool, error)
}

func (m *MockAdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAdminRepository) CreateIfMissing(ctx context.Context, admin *models.Admin) (bool, error) {
	if m.CreateIfMissingFunc != nil {
		return m.CreateIfMissingFunc(ctx, admin)
	}
	return true, nil
}

// MockAdminUserRepository implements AdminUserRepository for testing
type MockAdminUserRepository struct {
	MockUserRepository
	CountAndFetchFunc func(ctx context.Context, opts query.FindOptions) ([]*models.User, int, error)
}

func (m *MockAdminUserRepository) CountAndFetch(ctx context.Context, opts query.FindOptions) ([]*models.User, int, error) {
	if m.CountAndFetchFunc != nil {
		return m.CountAndFetchFunc(ctx, opts)
	}
	return nil, 0, nil
}

// MockObjectStore keeps objects in memory
type MockObjectStore struct {
	PutFunc    func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.Object, error)
	RemoveFunc func(ctx context.Context, key string) error

	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
	Removed []string
}

func (m *MockObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.Object, error) {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, r, size, contentType)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Objects == nil {
		m.Objects = map[string][]byte{}
		m.Types = map[string]string{}
	}
	m.Objects[key] = data
	m.Types[key] = contentType
	return &storage.Object{Key: key, Size: size, ContentType: contentType}, nil
}

func (m *MockObjectStore) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://bucket.test/" + key + "?X-Amz-Signature=sig", nil
}

func (m *MockObjectStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	m.Removed = append(m.Removed, key)
	m.mu.Unlock()
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, key)
	}
	return nil
}

// MockAttachmentRepository implements AttachmentRepository for testing
type MockAttachmentRepository struct {
	CreateFunc        func(ctx context.Context, key string, thumbnailKey *string) (*models.Attachment, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.Attachment, error)
	CountAndFetchFunc func(ctx context.Context, opts query.FindOptions) ([]*models.Attachment, int, error)
}

func (m *MockAttachmentRepository) Create(ctx context.Context, key string, thumbnailKey *string) (*models.Attachment, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, key, thumbnailKey)
	}
	return &models.Attachment{ID: "att-1", URL: key, ThumbnailURL: thumbnailKey}, nil
}

func (m *MockAttachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAttachmentRepository) CountAndFetch(ctx context.Context, opts query.FindOptions) ([]*models.Attachment, int, error) {
	if m.CountAndFetchFunc != nil {
		return m.CountAndFetchFunc(ctx, opts)
	}
	return nil, 0, nil
}

// MockRemoteFetcher implements RemoteFetcher for testing
type MockRemoteFetcher struct {
	FetchFunc func(ctx context.Context, url string) ([]byte, string, error)
}

func (m *MockRemoteFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, url)
	}
	return nil, "", oauth.ErrInvalidToken
}

// MockMailer records sent messages
type MockMailer struct {
	SendFunc func(ctx context.Context, msg Message) error

	mu   sync.Mutex
	Sent []Message
}

func (m *MockMailer) Send(ctx context.Context, msg Message) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()
	return nil
}

// MockActionRevoker implements ActionRevoker for testing
type MockActionRevoker struct {
	mu      sync.Mutex
	Revoked []string
}

func (m *MockActionRevoker) Revoke(ctx context.Context, actionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Revoked = append(m.Revoked, actionID)
	return true, nil
}

// MockJobQueue implements JobQueue for testing
type MockJobQueue struct {
	EnqueueFunc func(job queue.Job) error

	Jobs []queue.Job
	Hook queue.FailureHook
}

func (m *MockJobQueue) Enqueue(job queue.Job) error {
	if m.EnqueueFunc != nil {
		if err := m.EnqueueFunc(job); err != nil {
			return err
		}
	}
	m.Jobs = append(m.Jobs, job)
	return nil
}

func (m *MockJobQueue) OnFailure(hook queue.FailureHook) {
	m.Hook = hook
}

// MockResponsePadder records every padded call instead of sleeping
type MockResponsePadder struct {
	Calls int
}

func (m *MockResponsePadder) WaitFrom(ctx context.Context, start time.Time) {
	m.Calls++
}
