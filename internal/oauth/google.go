package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// Provider is an OAuth identity provider.
type Provider interface {
	AuthCodeURL(state string) string
	Profile(ctx context.Context, code string) (account.ExternalProfile, error)
}

// GoogleProvider authenticates with Google using the authorization code flow.
type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Profile exchanges code for a token and reads the user's profile with it.
func (g *GoogleProvider) Profile(ctx context.Context, code string) (account.ExternalProfile, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return account.ExternalProfile{}, fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return account.ExternalProfile{}, err
	}
	resp, err := g.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return account.ExternalProfile{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return account.ExternalProfile{}, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, b)
	}
	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return account.ExternalProfile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return account.ExternalProfile{}, errors.New("userinfo without subject")
	}
	return account.ExternalProfile{
		ID:         info.Sub,
		Email:      info.Email,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
	}, nil
}
