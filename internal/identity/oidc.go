package identity

import (
	"context"
	"strings"

	"golang.org/x/oauth2"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// ProviderName is one of the supported OIDC providers.
type ProviderName string

const (
	ProviderGoogle  ProviderName = "google"
	ProviderAzure   ProviderName = "azure"
	ProviderOkta    ProviderName = "okta"
	ProviderAuth0   ProviderName = "auth0"
	ProviderGeneric ProviderName = "oidc"
)

// ProviderConfig is one provider's OAuth2 wiring. A provider is only
// offered when every required field is present.
type ProviderConfig struct {
	Name         ProviderName
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Issuer is required for okta, auth0 and the generic provider; the
	// well-known endpoints derive from it.
	Issuer string
	Scopes []string
}

var wellKnownEndpoints = map[ProviderName]oauth2.Endpoint{
	ProviderGoogle: {
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	},
	ProviderAzure: {
		AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	},
}

// Enabled reports whether the provider is fully configured.
func (c ProviderConfig) Enabled() bool {
	if c.ClientID == "" || c.ClientSecret == "" || c.RedirectURL == "" {
		return false
	}
	switch c.Name {
	case ProviderGoogle, ProviderAzure:
		return true
	case ProviderOkta, ProviderAuth0, ProviderGeneric:
		return c.Issuer != ""
	}
	return false
}

// OAuth2Config materializes the provider as an oauth2.Config. Call
// only on enabled providers.
func (c ProviderConfig) OAuth2Config() *oauth2.Config {
	endpoint, ok := wellKnownEndpoints[c.Name]
	if !ok {
		issuer := strings.TrimRight(c.Issuer, "/")
		endpoint = oauth2.Endpoint{
			AuthURL:  issuer + "/authorize",
			TokenURL: issuer + "/oauth/token",
		}
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

// EnabledProviders filters a configured set down to the usable ones.
func EnabledProviders(configs []ProviderConfig) []ProviderConfig {
	var out []ProviderConfig
	for _, c := range configs {
		if c.Enabled() {
			out = append(out, c)
		}
	}
	return out
}

// FederatedLogin finds or creates the account behind a verified OIDC
// identity and issues a session. New accounts get the placeholder
// credential, so password login stays closed for them; org membership
// follows the email domain exactly as in Register.
func (s *Service) FederatedLogin(ctx context.Context, email, name, subject string) (*domain.User, string, error) {
	email = NormalizeEmail(email)
	if subject == "" {
		return nil, "", httperr.NewUnauthenticated("identity provider returned no subject")
	}
	user, err := s.users.ByEmail(ctx, email)
	switch {
	case err == store.ErrNotFound:
		user, err = s.createFederated(ctx, email, name, subject)
		if err != nil {
			return nil, "", err
		}
	case err != nil:
		return nil, "", err
	default:
		userCtx := tenant.System(ctx, user.OrgID)
		changed := false
		if user.OIDCSubject != subject {
			user.OIDCSubject = subject
			changed = true
		}
		if name = strings.TrimSpace(name); name != "" && user.Name != name {
			user.Name = name
			changed = true
		}
		if changed {
			if err := s.users.Update(userCtx, user); err != nil {
				return nil, "", err
			}
		}
	}
	org, err := s.orgs.Get(tenant.System(ctx, user.OrgID), user.OrgID)
	if err != nil || org.Status != domain.OrgActive {
		return nil, "", httperr.NewForbidden("organization is not active")
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) createFederated(ctx context.Context, email, name, subject string) (*domain.User, error) {
	if err := ValidateBusinessEmail(email); err != nil {
		return nil, err
	}
	emailDomain := EmailDomain(email)
	role := domain.RoleStaff
	org, err := s.orgs.ByDomain(ctx, emailDomain)
	if err == store.ErrNotFound {
		org = &domain.Organization{Domain: emailDomain, Name: emailDomain, Status: domain.OrgActive}
		if err := s.orgs.Create(ctx, org); err != nil {
			return nil, err
		}
		role = domain.RoleAdmin
	} else if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name == "" {
		name = email
	}
	user := &domain.User{
		OrgID:        org.ID,
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: federatedPassword,
		OIDCSubject:  subject,
		NotifyOptIn:  true,
	}
	userCtx := tenant.System(ctx, org.ID)
	if err := s.users.Create(userCtx, user); err != nil {
		return nil, err
	}
	s.sink.Record(userCtx, "user_registered", "user", user.ID.String(), nil,
		map[string]any{"email": user.Email, "role": user.Role, "federated": true}, "")
	return user, nil
}
