// Package oauth verifies identity tokens issued by external sign-in providers.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is what a provider vouches for.
type Identity struct {
	Provider   string
	Subject    string
	Email      string
	FirstName  string
	LastName   string
	PictureURL string
}

// FullName joins the given and family names.
func (i *Identity) FullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// Verifier validates a raw provider token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

func audienceAllowed(got []string, allowed []string) bool {
	for _, aud := range got {
		if slices.Contains(allowed, aud) {
			return true
		}
	}
	return false
}

// MaxPictureBytes caps downloaded profile pictures.
const MaxPictureBytes = 5 << 20

// PictureFetcher downloads provider profile pictures.
type PictureFetcher struct {
	client *http.Client
}

func NewPictureFetcher(client *http.Client) *PictureFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PictureFetcher{client: client}
}

// Fetch returns the image bytes and the served content type.
func (f *PictureFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build picture request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch picture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch picture: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPictureBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read picture: %w", err)
	}
	if len(data) > MaxPictureBytes {
		return nil, "", fmt.Errorf("picture exceeds %d bytes", MaxPictureBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
