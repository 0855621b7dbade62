package provider

import "context"

const (
	googleAuthEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenEndpoint    = "https://oauth2.googleapis.com/token"
	googleUserInfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Google authenticates subjects against Google's OpenID Connect endpoints.
type Google struct {
	cfg Config
}

// NewGoogle builds the Google provider. Unset endpoints and scopes take
// the public-cloud defaults.
func NewGoogle(cfg Config) *Google {
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = googleAuthEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = googleTokenEndpoint
	}
	if cfg.UserInfoEndpoint == "" {
		cfg.UserInfoEndpoint = googleUserInfoEndpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	return &Google{cfg: cfg}
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthorizeURL(state, redirectURI string) string {
	return authorizeURL(g.cfg.AuthEndpoint, g.cfg.ClientID, redirectURI, state, g.cfg.Scopes)
}

func (g *Google) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	return exchangeCode(ctx, g.cfg, code, redirectURI)
}

func (g *Google) Identity(ctx context.Context, accessToken string) (Identity, error) {
	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := getJSON(ctx, g.cfg, g.cfg.UserInfoEndpoint, accessToken, &info); err != nil {
		return Identity{}, err
	}
	if info.Email == "" {
		return Identity{}, ErrNoEmail
	}
	return Identity{SubjectID: info.Sub, Email: info.Email, DisplayName: info.Name}, nil
}
