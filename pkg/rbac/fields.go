package rbac

import (
	"context"
)

// FieldResolver computes the field-level read/write envelope for a set of
// roles on a content type.
//
// Policy: field permissions are an opt-in restriction layered on top of
// coarse content permissions, not an allow-list. A field with no explicit
// row across any of the given roles is allowed. Once at least one explicit
// row exists for a field, the decision comes only from the explicit rows:
// the field is allowed iff at least one row grants the permission. A role
// without a row does not re-open default-allow for an explicitly configured
// field.
type FieldResolver struct {
	store *Store
}

// NewFieldResolver creates a resolver over the given store.
func NewFieldResolver(store *Store) *FieldResolver {
	return &FieldResolver{store: store}
}

// AccessibleFields returns the subset of fieldNames the roles may access
// under the named permission, preserving the caller's field order.
func (r *FieldResolver) AccessibleFields(ctx context.Context, roleIDs []int64, contentType string, fieldNames []string, permission string) ([]string, error) {
	decisions, err := r.Check(ctx, roleIDs, contentType, fieldNames, permission)
	if err != nil {
		return nil, err
	}

	accessible := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		if decisions[name] {
			accessible = append(accessible, name)
		}
	}
	return accessible, nil
}

// Check returns a per-field decision map for the given roles, content type
// and permission.
func (r *FieldResolver) Check(ctx context.Context, roleIDs []int64, contentType string, fieldNames []string, permission string) (map[string]bool, error) {
	rows, err := r.store.FieldPermissionsFor(ctx, roleIDs, contentType, permission)
	if err != nil {
		return nil, err
	}

	// Fields with at least one explicit row; allowed iff any row grants.
	configured := make(map[string]bool)
	for _, fp := range rows {
		granted, seen := configured[fp.FieldName]
		configured[fp.FieldName] = (seen && granted) || fp.Granted
	}

	decisions := make(map[string]bool, len(fieldNames))
	for _, name := range fieldNames {
		if granted, ok := configured[name]; ok {
			decisions[name] = granted
		} else {
			decisions[name] = true
		}
	}
	return decisions, nil
}

// MaskEntry returns a copy of entry containing only the accessible fields.
// The caller's map is never mutated.
func MaskEntry(entry map[string]interface{}, accessibleFields []string) map[string]interface{} {
	if entry == nil {
		return nil
	}

	allowed := make(map[string]struct{}, len(accessibleFields))
	for _, name := range accessibleFields {
		allowed[name] = struct{}{}
	}

	masked := make(map[string]interface{}, len(entry))
	for key, value := range entry {
		if _, ok := allowed[key]; ok {
			masked[key] = value
		}
	}
	return masked
}
