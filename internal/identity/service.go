package identity

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/deciframe-hq/deciframe/internal/audit"
	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

const minPasswordLen = 8

// federatedPassword marks accounts created through an OIDC provider;
// it never matches a bcrypt comparison.
const federatedPassword = "!federated"

type Service struct {
	orgs   store.OrganizationStore
	users  store.UserStore
	tokens *TokenIssuer
	sink   *audit.Sink
	log    zerolog.Logger
}

func NewService(orgs store.OrganizationStore, users store.UserStore, tokens *TokenIssuer, sink *audit.Sink, log zerolog.Logger) *Service {
	return &Service{
		orgs:   orgs,
		users:  users,
		tokens: tokens,
		sink:   sink,
		log:    log.With().Str("component", "identity").Logger(),
	}
}

// Register creates a user, bootstrapping a new organization when the
// email domain is unclaimed. The first user of an organization is its
// Admin; everyone after joins as Staff.
func (s *Service) Register(ctx context.Context, email, name, password string) (*domain.User, error) {
	email = NormalizeEmail(email)
	if err := ValidateBusinessEmail(email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, httperr.NewFieldError("name", "required")
	}
	if len(password) < minPasswordLen {
		return nil, httperr.NewFieldError("password", "must be at least 8 characters")
	}
	if _, err := s.users.ByEmail(ctx, email); err == nil {
		return nil, httperr.NewFieldError("email", "already registered")
	}

	emailDomain := EmailDomain(email)
	role := domain.RoleStaff
	org, err := s.orgs.ByDomain(ctx, emailDomain)
	if err == store.ErrNotFound {
		org = &domain.Organization{
			Domain: emailDomain,
			Name:   emailDomain,
			Status: domain.OrgActive,
		}
		if err := s.orgs.Create(ctx, org); err != nil {
			return nil, err
		}
		role = domain.RoleAdmin
	} else if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		OrgID:        org.ID,
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         role,
		PasswordHash: string(hash),
		NotifyOptIn:  true,
	}
	userCtx := tenant.System(ctx, org.ID)
	if err := s.users.Create(userCtx, user); err != nil {
		return nil, err
	}
	s.sink.Record(userCtx, "user_registered", "user", user.ID.String(), nil,
		map[string]any{"email": user.Email, "role": user.Role, "new_org": role == domain.RoleAdmin}, "")
	return user, nil
}

// Login verifies credentials and issues a session token. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = NormalizeEmail(email)
	user, err := s.users.ByEmail(ctx, email)
	if err != nil {
		// Burn comparable time so the miss is not observable.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$performsacomparableamountofworkxxxxxxxxxxxxxxxxxxxxxx"), []byte(password))
		return nil, "", httperr.NewUnauthenticated("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", httperr.NewUnauthenticated("invalid email or password")
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

// Resolve turns a session token into a tenant context for the request.
func (s *Service) Resolve(ctx context.Context, token string) (tenant.Context, error) {
	session, err := s.tokens.Verify(token)
	if err != nil {
		return tenant.Context{}, httperr.NewUnauthenticated("invalid or expired session")
	}
	userCtx := tenant.System(ctx, session.OrgID)
	user, err := s.users.Get(userCtx, session.UserID)
	if err != nil {
		return tenant.Context{}, httperr.NewUnauthenticated("session user no longer exists")
	}
	return tenant.Context{
		ActorID:       user.ID,
		OrgID:         user.OrgID,
		Role:          user.Role,
		DepartmentID:  user.DepartmentID,
		Authenticated: true,
	}, nil
}
