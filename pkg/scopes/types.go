// Package scopes is the catalog of fine-grained permission strings available
// to roles. Scopes use dot notation (content.type.read, role.manage) and are
// either tenant-owned or global system scopes visible to every tenant.
package scopes

import "time"

// Scope is a named capability string.
type Scope struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Label          string    `json:"label"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	Active         bool      `json:"active"`
	System         bool      `json:"system"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListFilter narrows List results. Zero values mean no filtering on that
// dimension.
type ListFilter struct {
	Category   string
	Platform   string
	ActiveOnly bool
}
