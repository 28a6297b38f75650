package authz

// Principal is an authenticated actor bound to exactly one organization for
// the duration of a request. Every downstream permission check is evaluated
// against this (user, organization) pair; there is no cross-organization
// fallback.
type Principal struct {
	UserID         int64   `json:"user_id"`
	OrganizationID int64   `json:"organization_id"`
	RoleIDs        []int64 `json:"role_ids"`
	Superuser      bool    `json:"superuser"`

	// APIKeyID is set when the principal was authenticated with an API key
	// rather than a bearer token.
	APIKeyID *int64 `json:"api_key_id,omitempty"`
}

// HasRole reports whether the principal holds the given role in its current
// organization.
func (p *Principal) HasRole(roleID int64) bool {
	for _, id := range p.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
