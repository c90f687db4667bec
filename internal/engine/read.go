package engine

import (
	"context"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/audit"
	"restgen.dev/internal/query"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
)

// Index lists the model's active records.
func (e *Engine) Index(ctx context.Context, req Request) (List, error) {
	return e.list(ctx, req, registry.ActionIndex, store.TrashedExclude)
}

// Trashed lists soft-deleted records.
func (e *Engine) Trashed(ctx context.Context, req Request) (List, error) {
	return e.list(ctx, req, registry.ActionTrashed, store.TrashedOnly)
}

func (e *Engine) list(ctx context.Context, req Request, action registry.Action, trashed store.TrashedMode) (List, error) {
	m, err := e.resolve(req, action)
	if err != nil {
		return List{}, err
	}
	if err := e.authz.Authorize(ctx, req.Principal, m, action, nil); err != nil {
		return List{}, apierr.From(err)
	}
	plan, err := e.compiler.Compile(ctx, req.Principal, req.Scope, m, query.ParseDirectives(req.Query))
	if err != nil {
		return List{}, apierr.From(err)
	}
	plan.Query.Trashed = trashed

	res, err := e.compiler.Run(ctx, e.st.Records(), plan)
	if err != nil {
		return List{}, apierr.From(err)
	}
	for _, rec := range res.Records {
		strip(req.Principal, m, rec)
	}
	return List{Records: res.Records, Page: res.Page}, nil
}

// Show returns one active record with the requested includes.
func (e *Engine) Show(ctx context.Context, req Request) (Response, error) {
	m, err := e.resolve(req, registry.ActionShow)
	if err != nil {
		return Response{}, err
	}
	plan, err := e.compiler.Compile(ctx, req.Principal, req.Scope, m, query.ParseDirectives(req.Query))
	if err != nil {
		return Response{}, apierr.From(err)
	}
	rs := e.st.Records()
	rec, err := e.find(ctx, rs, req.Scope, m, req.ID, store.TrashedExclude)
	if err != nil {
		return Response{}, err
	}
	if err := e.authz.Authorize(ctx, req.Principal, m, registry.ActionShow, rec); err != nil {
		return Response{}, apierr.From(err)
	}
	if err := e.compiler.Expand(ctx, rs, plan, []store.Record{rec}); err != nil {
		return Response{}, apierr.From(err)
	}
	strip(req.Principal, m, rec)
	return Response{Record: rec}, nil
}

// Audit lists the audit trail of one record, newest first. Trashed records
// keep their trail visible.
func (e *Engine) Audit(ctx context.Context, req Request) (AuditTrail, error) {
	m, err := e.resolve(req, registry.ActionShow)
	if err != nil {
		return AuditTrail{}, err
	}
	rec, err := e.find(ctx, e.st.Records(), req.Scope, m, req.ID, store.TrashedWith)
	if err != nil {
		return AuditTrail{}, err
	}
	if err := e.authz.Authorize(ctx, req.Principal, m, registry.ActionShow, rec); err != nil {
		return AuditTrail{}, apierr.From(err)
	}

	d := query.ParseDirectives(req.Query)
	perPage := d.PerPage
	if perPage <= 0 {
		perPage = m.PerPage
	}
	if perPage > m.MaxPerPage {
		perPage = m.MaxPerPage
	}
	page := d.Page
	if page < 1 {
		page = 1
	}
	entries, total, err := e.st.Audit().List(ctx, audit.ListFilter{
		AuditableType:  m.Slug,
		AuditableID:    store.Text(rec[m.PrimaryKey]),
		OrganizationID: req.Scope.OrganizationID(),
		Limit:          perPage,
		Offset:         query.Offset(page, perPage),
	})
	if err != nil {
		return AuditTrail{}, apierr.From(err)
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	return AuditTrail{
		Entries: entries,
		Page:    query.Page{Current: page, Last: last, PerPage: perPage, Total: total},
	}, nil
}

// find loads one record of m by primary key inside the tenant scope.
// Records outside the scope are reported as not found.
func (e *Engine) find(ctx context.Context, rs store.RecordStore, scope *tenant.Scope, m *registry.Model, id string, trashed store.TrashedMode) (store.Record, error) {
	if id == "" {
		return nil, apierr.NotFound()
	}
	q := store.Query{
		Model:   m,
		Where:   append(e.compiler.ScopeConditions(m, scope), store.Condition{Field: m.PrimaryKey, Values: []string{id}}),
		Trashed: trashed,
		Limit:   1,
	}
	rows, err := rs.Select(ctx, q)
	if err != nil {
		return nil, apierr.From(err)
	}
	if len(rows) == 0 {
		return nil, apierr.NotFound()
	}
	return rows[0], nil
}
