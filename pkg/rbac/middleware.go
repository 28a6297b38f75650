package rbac

import (
	"context"
	"net/http"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/contextkeys"
	"github.com/vantagecms/vantage/pkg/observability"
)

// Enforcer is the single interpreter for authz.Requirement values. All route
// authorization flows through Evaluate so the policy stays auditable in one
// place.
type Enforcer struct {
	graph   *Graph
	fields  *FieldResolver
	metrics *observability.Metrics
}

// NewEnforcer creates an enforcer. metrics may be nil.
func NewEnforcer(graph *Graph, fields *FieldResolver, metrics *observability.Metrics) *Enforcer {
	return &Enforcer{graph: graph, fields: fields, metrics: metrics}
}

var _ authz.Evaluator = (*Enforcer)(nil)

// Evaluate decides a requirement for a principal. Returns nil when
// satisfied, authz.ErrForbidden when not, and the lookup error otherwise.
func (e *Enforcer) Evaluate(ctx context.Context, principal *authz.Principal, req authz.Requirement) error {
	err := e.evaluate(ctx, principal, req)
	if e.metrics != nil {
		e.metrics.AuthzChecksTotal.WithLabelValues(kindLabel(req.Kind), resultLabel(err)).Inc()
	}
	return err
}

func (e *Enforcer) evaluate(ctx context.Context, principal *authz.Principal, req authz.Requirement) error {
	switch req.Kind {
	case authz.KindScope:
		ok, err := e.graph.HasScope(ctx, principal, req.Scope)
		if err != nil {
			return err
		}
		if !ok {
			return authz.ErrForbidden
		}
		return nil
	case authz.KindFieldAccess:
		if principal.Superuser {
			return nil
		}
		decisions, err := e.fields.Check(ctx, principal.RoleIDs, req.ContentType, []string{req.Field}, req.Permission)
		if err != nil {
			return err
		}
		if !decisions[req.Field] {
			return authz.ErrForbidden
		}
		return nil
	default:
		return authz.ErrForbidden
	}
}

// Require wraps a handler with a requirement check against the request's
// authenticated principal.
func (e *Enforcer) Require(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := contextkeys.GetPrincipal(r.Context())
			if principal == nil {
				authz.WriteError(w, authz.ErrUnauthenticated)
				return
			}

			if err := e.Evaluate(r.Context(), principal, req); err != nil {
				logger := observability.FromContext(r.Context()).
					WithField("kind", kindLabel(req.Kind)).
					WithField("user_id", principal.UserID)
				switch req.Kind {
				case authz.KindFieldAccess:
					logger = logger.WithFields(map[string]interface{}{
						"content_type": req.ContentType,
						"field":        req.Field,
						"permission":   req.Permission,
					})
				default:
					logger = logger.WithField("scope", req.Scope)
				}
				logger.Debug("requirement rejected")
				authz.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func kindLabel(kind authz.RequirementKind) string {
	switch kind {
	case authz.KindScope:
		return "scope"
	case authz.KindFieldAccess:
		return "field_access"
	default:
		return "unknown"
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "allowed"
	}
	return "denied"
}
