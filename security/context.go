package security

import "context"

// tenantKey is the private context key for the request tenant.
type tenantKey struct{}

// ContextWithTenant attaches the authenticated tenant to a request
// context.
func ContextWithTenant(ctx context.Context, tenant *TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the authenticated tenant, or nil when the
// request bypassed authentication.
func TenantFromContext(ctx context.Context) *TenantContext {
	tenant, _ := ctx.Value(tenantKey{}).(*TenantContext)
	return tenant
}
