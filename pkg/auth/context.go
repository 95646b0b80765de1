// Package auth carries the authenticated request identity and the
// rate/concurrency limiters backing the request surface.
package auth

import (
	"context"
)

// Actor types attached to events written on behalf of a request.
const (
	ActorTypeUser    = "user"
	ActorTypeSystem  = "system"
	ActorTypeTrigger = "trigger"
)

// Well-known scopes. Endpoints declare the scopes they require; tokens carry
// the scopes they grant.
const (
	ScopeSearchRead      = "search:read"
	ScopeAskRead         = "ask:read"
	ScopeNodesRead       = "nodes:read"
	ScopeNodesWrite      = "nodes:write"
	ScopeTriggersWrite   = "triggers:write"
	ScopeAdminRefresh    = "admin:refresh"
	ScopeAdminMigrate    = "admin:migrate"
	ScopeAdminConnectors = "admin:connectors"
)

// RequestContext is the trusted identity threaded from the auth middleware
// to handlers and the storage layer. Never populated from request bodies.
type RequestContext struct {
	TenantID  string
	ActorID   string
	ActorType string
	Scopes    []string
	// DevMode marks identities minted locally with JWT disabled; scope
	// checks pass unconditionally for them.
	DevMode bool
}

// HasScope reports whether the context grants the given scope.
func (rc *RequestContext) HasScope(scope string) bool {
	if rc.DevMode {
		return true
	}
	for _, s := range rc.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithRequestContext returns a child context carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext extracts the RequestContext, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}

// TenantFromContext returns the tenant bound to the request, or "".
func TenantFromContext(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok {
		return rc.TenantID
	}
	return ""
}
