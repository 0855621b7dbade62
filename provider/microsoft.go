package provider

import "context"

const (
	microsoftAuthEndpoint     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	microsoftTokenEndpoint    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	microsoftUserInfoEndpoint = "https://graph.microsoft.com/v1.0/me"
)

// Microsoft authenticates subjects against Entra ID via Microsoft Graph.
type Microsoft struct {
	cfg Config
}

// NewMicrosoft builds the Microsoft provider with common-tenant defaults
// for unset endpoints and scopes.
func NewMicrosoft(cfg Config) *Microsoft {
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = microsoftAuthEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = microsoftTokenEndpoint
	}
	if cfg.UserInfoEndpoint == "" {
		cfg.UserInfoEndpoint = microsoftUserInfoEndpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile", "User.Read"}
	}
	return &Microsoft{cfg: cfg}
}

func (m *Microsoft) Name() string { return "microsoft" }

func (m *Microsoft) AuthorizeURL(state, redirectURI string) string {
	return authorizeURL(m.cfg.AuthEndpoint, m.cfg.ClientID, redirectURI, state, m.cfg.Scopes)
}

func (m *Microsoft) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	return exchangeCode(ctx, m.cfg, code, redirectURI)
}

func (m *Microsoft) Identity(ctx context.Context, accessToken string) (Identity, error) {
	var me struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := getJSON(ctx, m.cfg, m.cfg.UserInfoEndpoint, accessToken, &me); err != nil {
		return Identity{}, err
	}

	// Guest and unlicensed accounts leave mail empty; the UPN is the
	// routable address in that case.
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	if email == "" {
		return Identity{}, ErrNoEmail
	}
	return Identity{SubjectID: me.ID, Email: email, DisplayName: me.DisplayName}, nil
}
