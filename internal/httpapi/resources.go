package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/engine"
	"restgen.dev/internal/nested"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/tenant"
)

type nestedRequest struct {
	Operations []nested.Operation `json:"operations"`
}

type nestedResponse struct {
	Results []nested.Result `json:"results"`
}

// mountModels registers the generated routes of every model on r, skipping
// actions the model excludes.
func (a *API) mountModels(r chi.Router) {
	r.Use(a.scope)
	for _, m := range a.eng.Registry().Models() {
		r.Route("/"+m.Slug, func(r chi.Router) {
			if m.RequiresMiddleware(registry.MiddlewareAuth) {
				r.Use(a.requireUser)
			}
			if m.RequiresMiddleware(registry.MiddlewareThrottle) && a.limiter != nil {
				r.Use(RateLimit(a.limiter, a.log))
			}
			if m.Supports(registry.ActionIndex) {
				r.Get("/", a.index(m.Slug))
			}
			if m.Supports(registry.ActionTrashed) {
				r.Get("/trashed", a.trashed(m.Slug))
			}
			if m.Supports(registry.ActionStore) {
				r.Post("/", a.store(m.Slug))
			}
			if m.Supports(registry.ActionShow) {
				r.Get("/{id}", a.show(m.Slug))
				if m.Audit.Enabled {
					r.Get("/{id}/audit", a.auditTrail(m.Slug))
				}
			}
			if m.Supports(registry.ActionUpdate) {
				r.Put("/{id}", a.update(m.Slug))
				r.Patch("/{id}", a.update(m.Slug))
			}
			if m.Supports(registry.ActionDestroy) {
				r.Delete("/{id}", a.destroy(m.Slug))
			}
			if m.Supports(registry.ActionRestore) {
				r.Post("/{id}/restore", a.restore(m.Slug))
			}
			if m.Supports(registry.ActionForceDelete) {
				r.Delete("/{id}/force-delete", a.forceDelete(m.Slug))
			}
		})
	}
	if a.cfg.NestedPath != "" {
		r.Post("/"+a.cfg.NestedPath, a.nested)
	}
}

func request(r *http.Request, model string) engine.Request {
	ctx := r.Context()
	return engine.Request{
		Principal: auth.PrincipalFromContext(ctx),
		Scope:     tenant.FromContext(ctx),
		Model:     model,
		ID:        chi.URLParam(r, "id"),
		Query:     r.URL.Query(),
	}
}

func (a *API) index(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := a.eng.Index(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writePage(w, list.Page)
		writeJSON(w, http.StatusOK, list.Records)
	}
}

func (a *API) trashed(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := a.eng.Trashed(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writePage(w, list.Page)
		writeJSON(w, http.StatusOK, list.Records)
	}
}

func (a *API) show(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := a.eng.Show(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Record)
	}
}

func (a *API) store(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := request(r, model)
		if err := decodeJSON(r, &req.Payload, false); err != nil {
			a.writeError(w, r, err)
			return
		}
		res, err := a.eng.Store(r.Context(), req)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		markDegraded(w, res.Degraded)
		writeJSON(w, http.StatusCreated, res.Record)
	}
}

func (a *API) update(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := request(r, model)
		if err := decodeJSON(r, &req.Payload, false); err != nil {
			a.writeError(w, r, err)
			return
		}
		res, err := a.eng.Update(r.Context(), req)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		markDegraded(w, res.Degraded)
		writeJSON(w, http.StatusOK, res.Record)
	}
}

func (a *API) destroy(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := a.eng.Destroy(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		markDegraded(w, res.Degraded)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) restore(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := a.eng.Restore(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		markDegraded(w, res.Degraded)
		writeJSON(w, http.StatusOK, res.Record)
	}
}

func (a *API) forceDelete(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := a.eng.ForceDelete(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		markDegraded(w, res.Degraded)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) auditTrail(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trail, err := a.eng.Audit(r.Context(), request(r, model))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writePage(w, trail.Page)
		writeJSON(w, http.StatusOK, trail.Entries)
	}
}

func (a *API) nested(w http.ResponseWriter, r *http.Request) {
	var body nestedRequest
	if err := decodeJSON(r, &body, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	results, degraded, err := a.eng.Nested(ctx, auth.PrincipalFromContext(ctx), tenant.FromContext(ctx), body.Operations)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	markDegraded(w, degraded)
	writeJSON(w, http.StatusOK, nestedResponse{Results: results})
}
