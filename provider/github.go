package provider

import (
	"context"
	"strconv"
)

const (
	githubAuthEndpoint     = "https://github.com/login/oauth/authorize"
	githubTokenEndpoint    = "https://github.com/login/oauth/access_token"
	githubUserInfoEndpoint = "https://api.github.com/user"
	githubEmailEndpoint    = "https://api.github.com/user/emails"
)

// GitHub authenticates subjects against the GitHub OAuth application flow.
// GitHub allows accounts with a private primary email, so a secondary
// endpoint lookup is sometimes needed to recover an address.
type GitHub struct {
	cfg Config
}

// NewGitHub builds the GitHub provider with public-cloud defaults for
// unset endpoints and scopes.
func NewGitHub(cfg Config) *GitHub {
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = githubAuthEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = githubTokenEndpoint
	}
	if cfg.UserInfoEndpoint == "" {
		cfg.UserInfoEndpoint = githubUserInfoEndpoint
	}
	if cfg.EmailEndpoint == "" {
		cfg.EmailEndpoint = githubEmailEndpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "user:email"}
	}
	return &GitHub{cfg: cfg}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) AuthorizeURL(state, redirectURI string) string {
	return authorizeURL(g.cfg.AuthEndpoint, g.cfg.ClientID, redirectURI, state, g.cfg.Scopes)
}

func (g *GitHub) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	return exchangeCode(ctx, g.cfg, code, redirectURI)
}

func (g *GitHub) Identity(ctx context.Context, accessToken string) (Identity, error) {
	var user struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
		Login string `json:"login"`
	}
	if err := getJSON(ctx, g.cfg, g.cfg.UserInfoEndpoint, accessToken, &user); err != nil {
		return Identity{}, err
	}

	email := user.Email
	if email == "" {
		var err error
		email, err = g.primaryEmail(ctx, accessToken)
		if err != nil {
			return Identity{}, err
		}
	}
	if email == "" {
		return Identity{}, ErrNoEmail
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return Identity{
		SubjectID:   strconv.FormatInt(user.ID, 10),
		Email:       email,
		DisplayName: name,
	}, nil
}

// primaryEmail resolves a hidden primary address via the emails endpoint.
// Only verified addresses are accepted.
func (g *GitHub) primaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, g.cfg, g.cfg.EmailEndpoint, accessToken, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
