package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/observability"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 30 * time.Second
)

// Graph answers scope questions by unioning the scopes bound to each of the
// principal's roles in the active organization, plus active global system
// scopes. Results are cached briefly; every mutation through the graph
// invalidates the cache so revocations are visible on the next call.
type Graph struct {
	store   *Store
	cache   *expirable.LRU[string, []string]
	metrics *observability.Metrics
}

// NewGraph creates a graph over the given store. metrics may be nil.
func NewGraph(store *Store, metrics *observability.Metrics) *Graph {
	return &Graph{
		store:   store,
		cache:   expirable.NewLRU[string, []string](defaultCacheSize, nil, defaultCacheTTL),
		metrics: metrics,
	}
}

// EffectiveScopes returns the union of scope names the principal holds in its
// current organization. Superusers receive every active scope visible to the
// organization.
func (g *Graph) EffectiveScopes(ctx context.Context, principal *authz.Principal) ([]string, error) {
	if principal.Superuser {
		return g.store.AllScopeNames(ctx, principal.OrganizationID)
	}

	key := cacheKey(principal)
	if cached, ok := g.cache.Get(key); ok {
		if g.metrics != nil {
			g.metrics.ScopeCacheHits.Inc()
		}
		return cached, nil
	}
	if g.metrics != nil {
		g.metrics.ScopeCacheMisses.Inc()
	}

	roleScopes, err := g.store.ScopesForRoles(ctx, principal.RoleIDs)
	if err != nil {
		return nil, err
	}
	systemScopes, err := g.store.GlobalSystemScopes(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(roleScopes)+len(systemScopes))
	merged := make([]string, 0, len(roleScopes)+len(systemScopes))
	for _, name := range append(roleScopes, systemScopes...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		merged = append(merged, name)
	}
	sort.Strings(merged)

	g.cache.Add(key, merged)
	return merged, nil
}

// HasScope reports whether the principal holds the named scope.
func (g *Graph) HasScope(ctx context.Context, principal *authz.Principal, scopeName string) (bool, error) {
	if principal.Superuser {
		return true, nil
	}
	scopes, err := g.EffectiveScopes(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, name := range scopes {
		if name == scopeName {
			return true, nil
		}
	}
	return false, nil
}

// GrantScope binds a scope to a role and invalidates cached resolutions.
func (g *Graph) GrantScope(ctx context.Context, roleID, scopeID int64) error {
	if err := g.store.GrantScope(ctx, roleID, scopeID); err != nil {
		return err
	}
	g.cache.Purge()
	return nil
}

// RevokeScope unbinds a scope from a role and invalidates cached resolutions.
func (g *Graph) RevokeScope(ctx context.Context, roleID, scopeID int64) error {
	if err := g.store.RevokeScope(ctx, roleID, scopeID); err != nil {
		return err
	}
	g.cache.Purge()
	return nil
}

// Invalidate drops all cached scope resolutions. Called after out-of-band
// mutations such as role assignment changes.
func (g *Graph) Invalidate() {
	g.cache.Purge()
}

func cacheKey(principal *authz.Principal) string {
	return fmt.Sprintf("%d:%d", principal.OrganizationID, principal.UserID)
}
