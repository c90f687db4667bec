package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/tenant"
)

const organizationParam = "organization"

// scope resolves the active organization and the caller's role in it, then
// attaches scope, principal and audit actor to the request. Without tenancy
// the caller's global role applies.
func (a *API) scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user, _ := auth.UserFromContext(ctx)

		var (
			sc  *tenant.Scope
			err error
		)
		switch {
		case a.tenants == nil:
			sc, err = tenant.GlobalScope(ctx, a.eng.Storage().Directory(), user)
		case a.tenants.Strategy() == tenant.StrategySubdomain:
			label, ok := a.tenants.FromHost(r.Host)
			if !ok {
				err = tenant.ErrTenantNotFound
				break
			}
			sc, err = a.tenants.Resolve(ctx, label, user)
		default:
			sc, err = a.tenants.Resolve(ctx, chi.URLParam(r, organizationParam), user)
		}
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		p := sc.Principal(user)
		ctx = tenant.ContextWithScope(ctx, sc)
		ctx = auth.ContextWithPrincipal(ctx, p)

		actor := audit.ActorFromContext(ctx)
		actor.UserID = p.UserID()
		actor.OrganizationID = sc.OrganizationID()
		actor.IPAddress = clientIP(r)
		actor.UserAgent = r.UserAgent()
		ctx = audit.WithActor(ctx, actor)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
