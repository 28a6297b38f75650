// Package tenancy establishes who is calling, as whom, and in which
// organization for every request, and implements multi-tenant organization
// switching.
package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vantagecms/vantage/pkg/auth"
	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/observability"
	"github.com/vantagecms/vantage/pkg/rbac"
)

// Organization is a tenant boundary.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials carries the raw credential material extracted from a request.
// At most one of the two is honored: API keys take precedence.
type Credentials struct {
	BearerToken string
	APIKey      string
}

// Service resolves principals and manages organization context.
type Service struct {
	db      *sql.DB
	tokens  *auth.TokenIssuer
	apiKeys *auth.APIKeyStore
	roles   *rbac.Store
	metrics *observability.Metrics
}

// NewService creates a tenancy service. metrics may be nil.
func NewService(db *sql.DB, tokens *auth.TokenIssuer, apiKeys *auth.APIKeyStore, roles *rbac.Store, metrics *observability.Metrics) *Service {
	return &Service{db: db, tokens: tokens, apiKeys: apiKeys, roles: roles, metrics: metrics}
}

// Resolve authenticates the credentials and assembles the principal bound to
// exactly one organization. Fails with authz.ErrUnauthenticated when neither
// credential is valid.
func (s *Service) Resolve(ctx context.Context, creds Credentials) (*authz.Principal, error) {
	switch {
	case creds.APIKey != "":
		return s.resolveAPIKey(ctx, creds.APIKey)
	case creds.BearerToken != "":
		return s.resolveBearer(ctx, creds.BearerToken)
	default:
		return nil, authz.ErrUnauthenticated
	}
}

func (s *Service) resolveAPIKey(ctx context.Context, raw string) (*authz.Principal, error) {
	key, err := s.apiKeys.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}

	superuser, err := s.isSuperuser(ctx, key.UserID)
	if err != nil {
		return nil, err
	}

	principal := &authz.Principal{
		UserID:         key.UserID,
		OrganizationID: key.OrganizationID,
		Superuser:      superuser,
		APIKeyID:       &key.ID,
	}
	principal.RoleIDs, err = s.roles.RolesForUser(ctx, key.UserID, key.OrganizationID)
	if err != nil {
		return nil, err
	}
	return principal, nil
}

func (s *Service) resolveBearer(ctx context.Context, token string) (*authz.Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TokenVerifications.WithLabelValues("rejected").Inc()
		}
		return nil, fmt.Errorf("%w: %v", authz.ErrUnauthenticated, err)
	}
	if s.metrics != nil {
		s.metrics.TokenVerifications.WithLabelValues("accepted").Inc()
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", authz.ErrUnauthenticated)
	}

	// Token claims are trusted for identity, not for membership: the
	// organization binding is re-checked against current state so that a
	// membership removal takes effect before the token expires.
	member, err := s.isMember(ctx, userID, claims.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fmt.Errorf("%w: organization membership revoked", authz.ErrUnauthenticated)
	}

	superuser, err := s.isSuperuser(ctx, userID)
	if err != nil {
		return nil, err
	}

	principal := &authz.Principal{
		UserID:         userID,
		OrganizationID: claims.OrganizationID,
		Superuser:      superuser,
	}
	principal.RoleIDs, err = s.roles.RolesForUser(ctx, userID, claims.OrganizationID)
	if err != nil {
		return nil, err
	}
	return principal, nil
}

// ListOrganizations enumerates the organizations the principal belongs to.
func (s *Service) ListOrganizations(ctx context.Context, principal *authz.Principal) ([]Organization, error) {
	query := `
		SELECT o.id, o.name, o.owner_id, o.created_at
		FROM organizations o
		JOIN user_organizations uo ON uo.organization_id = o.id
		WHERE uo.user_id = $1
		ORDER BY o.name
	`
	rows, err := s.db.QueryContext(ctx, query, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		var ownerID sql.NullInt64
		if err := rows.Scan(&org.ID, &org.Name, &ownerID, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		if ownerID.Valid {
			id := ownerID.Int64
			org.OwnerID = &id
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// Switch rebinds the principal to another organization it belongs to.
// Returns authz.ErrNotFound when the organization does not exist and
// authz.ErrForbidden when the principal is not a member. Switching to the
// current organization succeeds trivially.
func (s *Service) Switch(ctx context.Context, principal *authz.Principal, organizationID int64) (*authz.Principal, error) {
	if organizationID == principal.OrganizationID {
		return principal, nil
	}

	exists, err := s.organizationExists(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, authz.ErrNotFound
	}

	member, err := s.isMember(ctx, principal.UserID, organizationID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, authz.ErrForbidden
	}

	switched := &authz.Principal{
		UserID:         principal.UserID,
		OrganizationID: organizationID,
		Superuser:      principal.Superuser,
		APIKeyID:       principal.APIKeyID,
	}
	switched.RoleIDs, err = s.roles.RolesForUser(ctx, principal.UserID, organizationID)
	if err != nil {
		return nil, err
	}
	return switched, nil
}

// SetDefaultOrganization persists the organization used for future logins.
// Same membership rules as Switch.
func (s *Service) SetDefaultOrganization(ctx context.Context, principal *authz.Principal, organizationID int64) error {
	exists, err := s.organizationExists(ctx, organizationID)
	if err != nil {
		return err
	}
	if !exists {
		return authz.ErrNotFound
	}

	member, err := s.isMember(ctx, principal.UserID, organizationID)
	if err != nil {
		return err
	}
	if !member {
		return authz.ErrForbidden
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET default_organization_id = $1 WHERE id = $2`,
		organizationID, principal.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to set default organization: %w", err)
	}
	return nil
}

func (s *Service) organizationExists(ctx context.Context, organizationID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM organizations WHERE id = $1`, organizationID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return true, nil
}

func (s *Service) isMember(ctx context.Context, userID, organizationID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM user_organizations WHERE user_id = $1 AND organization_id = $2`,
		userID, organizationID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

func (s *Service) isSuperuser(ctx context.Context, userID int64) (bool, error) {
	var superuser bool
	err := s.db.QueryRowContext(ctx,
		`SELECT superuser FROM users WHERE id = $1`, userID,
	).Scan(&superuser)
	if errors.Is(err, sql.ErrNoRows) {
		return false, authz.ErrUnauthenticated
	}
	if err != nil {
		return false, fmt.Errorf("failed to check superuser flag: %w", err)
	}
	return superuser, nil
}
