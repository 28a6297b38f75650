// Package rbac maintains the role-permission graph: role to scope bindings,
// legacy coarse permissions, field-level permissions, and the resolution
// logic that answers "may this principal do X" for a request.
package rbac

import "time"

// Role is a named bundle of permissions scoped to one organization.
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	OrganizationID int64     `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FieldPermission records that a role may (or may not) access one field of
// one content type under a named permission.
type FieldPermission struct {
	ID          int64     `json:"id"`
	RoleID      int64     `json:"role_id"`
	ContentType string    `json:"content_type"`
	FieldName   string    `json:"field_name"`
	Permission  string    `json:"permission"`
	Granted     bool      `json:"granted"`
	CreatedAt   time.Time `json:"created_at"`
}

// LegacyPermission is a coarse pre-scope permission row, retained for
// backward compatibility until the rename migration retires it.
type LegacyPermission struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
