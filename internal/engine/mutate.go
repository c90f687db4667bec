package engine

import (
	"context"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/nested"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
	"restgen.dev/internal/validation"
)

// Store validates the payload and creates a record.
func (e *Engine) Store(ctx context.Context, req Request) (Response, error) {
	m, err := e.resolve(req, registry.ActionStore)
	if err != nil {
		return Response{}, err
	}
	clean, err := e.validate(req.Principal, m, registry.ActionStore, req.Payload)
	if err != nil {
		return Response{}, err
	}
	if err := e.authz.Authorize(ctx, req.Principal, m, registry.ActionStore, clean); err != nil {
		return Response{}, apierr.From(err)
	}

	var out Response
	ctx = withActor(ctx, req.Principal, req.Scope)
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		rec, degraded, err := e.create(ctx, tx, req.Scope, m, clean)
		out = Response{Record: rec, Degraded: degraded}
		return err
	})
	if err != nil {
		return Response{}, apierr.From(err)
	}
	strip(req.Principal, m, out.Record)
	return out, nil
}

// Update validates the payload and applies it to an active record.
func (e *Engine) Update(ctx context.Context, req Request) (Response, error) {
	m, err := e.resolve(req, registry.ActionUpdate)
	if err != nil {
		return Response{}, err
	}
	clean, err := e.validate(req.Principal, m, registry.ActionUpdate, req.Payload)
	if err != nil {
		return Response{}, err
	}

	var out Response
	ctx = withActor(ctx, req.Principal, req.Scope)
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		rec, degraded, err := e.update(ctx, tx, req.Principal, req.Scope, m, req.ID, clean)
		out = Response{Record: rec, Degraded: degraded}
		return err
	})
	if err != nil {
		return Response{}, apierr.From(err)
	}
	strip(req.Principal, m, out.Record)
	return out, nil
}

// Destroy soft-deletes the record when the model supports it and removes it
// otherwise.
func (e *Engine) Destroy(ctx context.Context, req Request) (Response, error) {
	m, err := e.resolve(req, registry.ActionDestroy)
	if err != nil {
		return Response{}, err
	}
	var out Response
	ctx = withActor(ctx, req.Principal, req.Scope)
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		rec, degraded, err := e.destroy(ctx, tx, req.Principal, req.Scope, m, req.ID)
		out = Response{Record: rec, Degraded: degraded}
		return err
	})
	if err != nil {
		return Response{}, apierr.From(err)
	}
	return out, nil
}

// Restore clears the deletion marker of a trashed record.
func (e *Engine) Restore(ctx context.Context, req Request) (Response, error) {
	m, err := e.resolve(req, registry.ActionRestore)
	if err != nil {
		return Response{}, err
	}
	var out Response
	ctx = withActor(ctx, req.Principal, req.Scope)
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		before, err := e.find(ctx, tx.Records(), req.Scope, m, req.ID, store.TrashedOnly)
		if err != nil {
			return err
		}
		if err := e.authz.Authorize(ctx, req.Principal, m, registry.ActionRestore, before); err != nil {
			return err
		}
		changes := store.Record{registry.ColumnDeletedAt: nil}
		if m.Timestamps {
			changes[registry.ColumnUpdatedAt] = e.now().UTC()
		}
		after, err := tx.Records().Update(ctx, m, store.Text(before[m.PrimaryKey]), changes)
		if err != nil {
			return err
		}
		out.Record = after
		out.Degraded = e.recorder.Record(ctx, tx.Audit(), m, audit.EventRestored, store.Text(after[m.PrimaryKey]), before, after)
		return nil
	})
	if err != nil {
		return Response{}, apierr.From(err)
	}
	strip(req.Principal, m, out.Record)
	return out, nil
}

// ForceDelete permanently removes a record, trashed or not.
func (e *Engine) ForceDelete(ctx context.Context, req Request) (Response, error) {
	m, err := e.resolve(req, registry.ActionForceDelete)
	if err != nil {
		return Response{}, err
	}
	var out Response
	ctx = withActor(ctx, req.Principal, req.Scope)
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		before, err := e.find(ctx, tx.Records(), req.Scope, m, req.ID, store.TrashedWith)
		if err != nil {
			return err
		}
		if err := e.authz.Authorize(ctx, req.Principal, m, registry.ActionForceDelete, before); err != nil {
			return err
		}
		id := store.Text(before[m.PrimaryKey])
		if err := tx.Records().Delete(ctx, m, id); err != nil {
			return err
		}
		out.Record = before
		out.Degraded = e.recorder.Record(ctx, tx.Audit(), m, audit.EventForceDeleted, id, before, nil)
		return nil
	})
	if err != nil {
		return Response{}, apierr.From(err)
	}
	return out, nil
}

// Nested runs a batch of operations atomically.
func (e *Engine) Nested(ctx context.Context, p *auth.Principal, scope *tenant.Scope, ops []nested.Operation) ([]nested.Result, bool, error) {
	ctx = withActor(ctx, p, scope)
	results, degraded, err := e.nested.Execute(ctx, p, scope, ops)
	if err != nil {
		return nil, false, apierr.From(err)
	}
	return results, degraded, nil
}

// validate resolves the role's rule layer and checks the payload against it.
// A role without a contract is an authorization failure.
func (e *Engine) validate(p *auth.Principal, m *registry.Model, action registry.Action, payload map[string]any) (map[string]any, error) {
	fr, err := rules(p, m, action)
	if err != nil {
		return nil, apierr.From(err)
	}
	clean, err := validation.Validate(fr, payload, validation.Options{Messages: m.Validation.Messages})
	if err != nil {
		return nil, apierr.From(err)
	}
	return clean, nil
}

// create inserts a validated payload. The organization reference is stamped
// from the scope; owner-path models must point at a parent inside it.
func (e *Engine) create(ctx context.Context, tx store.Store, scope *tenant.Scope, m *registry.Model, data map[string]any) (store.Record, bool, error) {
	rec := make(store.Record, len(data)+3)
	for k, v := range data {
		rec[k] = v
	}
	scope.Stamp(m, rec)
	if err := e.checkOwner(ctx, tx.Records(), scope, m, rec); err != nil {
		return nil, false, err
	}
	if m.Timestamps {
		now := e.now().UTC()
		rec[registry.ColumnCreatedAt] = now
		rec[registry.ColumnUpdatedAt] = now
	}
	if m.SoftDeletes {
		rec[registry.ColumnDeletedAt] = nil
	}
	created, err := tx.Records().Insert(ctx, m, rec)
	if err != nil {
		return nil, false, err
	}
	degraded := e.recorder.Record(ctx, tx.Audit(), m, audit.EventCreated, store.Text(created[m.PrimaryKey]), nil, created)
	return created, degraded, nil
}

// update loads the record inside the scope, runs the policy against it and
// applies the validated changes.
func (e *Engine) update(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, id string, data map[string]any) (store.Record, bool, error) {
	before, err := e.find(ctx, tx.Records(), scope, m, id, store.TrashedExclude)
	if err != nil {
		return nil, false, err
	}
	if err := e.authz.Authorize(ctx, p, m, registry.ActionUpdate, before); err != nil {
		return nil, false, err
	}
	changes := make(store.Record, len(data)+1)
	for k, v := range data {
		changes[k] = v
	}
	if m.OrganizationField != "" {
		delete(changes, m.OrganizationField)
	}
	if err := e.checkOwner(ctx, tx.Records(), scope, m, changes); err != nil {
		return nil, false, err
	}
	if m.Timestamps {
		changes[registry.ColumnUpdatedAt] = e.now().UTC()
	}
	key := store.Text(before[m.PrimaryKey])
	after, err := tx.Records().Update(ctx, m, key, changes)
	if err != nil {
		return nil, false, err
	}
	degraded := e.recorder.Record(ctx, tx.Audit(), m, audit.EventUpdated, key, before, after)
	return after, degraded, nil
}

func (e *Engine) destroy(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, id string) (store.Record, bool, error) {
	before, err := e.find(ctx, tx.Records(), scope, m, id, store.TrashedExclude)
	if err != nil {
		return nil, false, err
	}
	if err := e.authz.Authorize(ctx, p, m, registry.ActionDestroy, before); err != nil {
		return nil, false, err
	}
	key := store.Text(before[m.PrimaryKey])
	if m.SoftDeletes {
		now := e.now().UTC()
		changes := store.Record{registry.ColumnDeletedAt: now}
		if m.Timestamps {
			changes[registry.ColumnUpdatedAt] = now
		}
		if _, err := tx.Records().Update(ctx, m, key, changes); err != nil {
			return nil, false, err
		}
	} else if err := tx.Records().Delete(ctx, m, key); err != nil {
		return nil, false, err
	}
	degraded := e.recorder.Record(ctx, tx.Audit(), m, audit.EventDeleted, key, before, nil)
	return before, degraded, nil
}

// checkOwner verifies that the parent named by the first owner hop belongs
// to the active organization. Only foreign keys present in rec are checked.
func (e *Engine) checkOwner(ctx context.Context, rs store.RecordStore, scope *tenant.Scope, m *registry.Model, rec store.Record) error {
	if scope.OrganizationID() == "" || len(m.Owner) == 0 {
		return nil
	}
	hop := m.Owner[0]
	v, ok := rec[hop.LocalColumn]
	if !ok || v == nil {
		return nil
	}
	parent, err := e.reg.Resolve(hop.To)
	if err != nil {
		return err
	}
	q := store.Query{
		Model: parent,
		Where: append(e.compiler.ScopeConditions(parent, scope),
			store.Condition{Field: hop.RemoteColumn, Values: []string{store.Text(v)}}),
	}
	n, err := rs.Count(ctx, q)
	if err != nil {
		return err
	}
	if n == 0 {
		return validation.Errors{hop.LocalColumn: {"The selected " + hop.LocalColumn + " is invalid."}}
	}
	return nil
}

// mutator exposes the single-record paths to the nested executor.
type mutator struct{ e *Engine }

var _ nested.Mutator = mutator{}

func (mu mutator) Authorize(ctx context.Context, p *auth.Principal, m *registry.Model, action registry.Action) error {
	return mu.e.authz.Check(p, m, action)
}

func (mu mutator) Rules(p *auth.Principal, m *registry.Model, action registry.Action) (validation.FieldRules, error) {
	return rules(p, m, action)
}

func (mu mutator) Create(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, data map[string]any) (store.Record, bool, error) {
	if err := mu.e.authz.Authorize(ctx, p, m, registry.ActionStore, data); err != nil {
		return nil, false, err
	}
	return mu.e.create(ctx, tx, scope, m, data)
}

func (mu mutator) Update(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, id string, data map[string]any) (store.Record, bool, error) {
	return mu.e.update(ctx, tx, p, scope, m, id, data)
}

func (mu mutator) Delete(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, id string) (store.Record, bool, error) {
	return mu.e.destroy(ctx, tx, p, scope, m, id)
}
