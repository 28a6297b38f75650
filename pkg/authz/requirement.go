package authz

import "context"

// RequirementKind discriminates Requirement variants.
type RequirementKind int

const (
	// KindScope requires the principal to hold a named scope.
	KindScope RequirementKind = iota
	// KindFieldAccess requires field-level access on a content type.
	KindFieldAccess
)

// Requirement is a declarative authorization requirement attached to a route.
// Keeping the policy in a small tagged variant evaluated by a single
// interpreter (Evaluator.Evaluate) keeps the authorization rules auditable in
// one place instead of scattered across call sites.
type Requirement struct {
	Kind RequirementKind

	// KindScope
	Scope string

	// KindFieldAccess
	ContentType string
	Field       string
	Permission  string
}

// RequireScope requires the named scope in the principal's organization.
func RequireScope(name string) Requirement {
	return Requirement{Kind: KindScope, Scope: name}
}

// RequireFieldAccess requires the named permission on one field of a content
// type, e.g. RequireFieldAccess("article", "body", "content.update").
func RequireFieldAccess(contentType, field, permission string) Requirement {
	return Requirement{Kind: KindFieldAccess, ContentType: contentType, Field: field, Permission: permission}
}

// Evaluator decides requirements against the role-permission graph.
type Evaluator interface {
	// Evaluate returns nil when the principal satisfies the requirement,
	// ErrForbidden when it does not, and any other error on lookup failure.
	Evaluate(ctx context.Context, principal *Principal, req Requirement) error
}
