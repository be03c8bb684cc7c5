package oauth

import (
	"context"
	"fmt"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"google.golang.org/api/idtoken"
)

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Google verifies Google ID tokens against the web, iOS and Android client IDs.
type Google struct {
	audiences []string
	validate  validateFunc
}

func NewGoogle(audiences []string) *Google {
	return &Google{audiences: audiences, validate: idtoken.Validate}
}

func (g *Google) Verify(ctx context.Context, token string) (*Identity, error) {
	if len(g.audiences) == 0 {
		return nil, fmt.Errorf("%w: google sign-in is not configured", ErrInvalidToken)
	}

	// An empty audience checks signature, issuer and expiry only; the
	// audience is matched against every configured client below.
	payload, err := g.validate(ctx, token, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !audienceAllowed([]string{payload.Audience}, g.audiences) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}

	id := &Identity{
		Provider:   models.OAuthProviderGoogle,
		Subject:    payload.Subject,
		Email:      claimString(payload.Claims, "email"),
		FirstName:  claimString(payload.Claims, "given_name"),
		LastName:   claimString(payload.Claims, "family_name"),
		PictureURL: claimString(payload.Claims, "picture"),
	}
	if id.Subject == "" || id.Email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrInvalidToken)
	}
	return id, nil
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}
