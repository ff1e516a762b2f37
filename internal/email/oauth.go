package email

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// OAuthCredentials is the refreshable token set stored on a monitor.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	Expiry       *time.Time
	TokenURL     string
}

// googleTokenURL is the default token endpoint; Gmail is the dominant
// provider for monitored inboxes.
const googleTokenURL = "https://oauth2.googleapis.com/token"

// FreshAccessToken returns a usable access token, refreshing through the
// OAuth token endpoint when the stored one is missing or expired. The
// second return reports whether a refresh happened so the caller can
// persist the new token.
func FreshAccessToken(ctx context.Context, creds *OAuthCredentials) (*oauth2.Token, bool, error) {
	if creds.AccessToken != "" && creds.Expiry != nil && time.Until(*creds.Expiry) > time.Minute {
		return &oauth2.Token{
			AccessToken: creds.AccessToken,
			TokenType:   "Bearer",
			Expiry:      *creds.Expiry,
		}, false, nil
	}

	if creds.RefreshToken == "" {
		return nil, false, fmt.Errorf("no refresh token available")
	}

	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}

	seed := &oauth2.Token{RefreshToken: creds.RefreshToken}
	token, err := conf.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, false, fmt.Errorf("failed to refresh access token: %w", err)
	}
	return token, true, nil
}
