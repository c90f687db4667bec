// Package engine implements the generated CRUD actions on top of the
// registry, query compiler, authorizer, validator, store and audit recorder.
package engine

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/nested"
	"restgen.dev/internal/obs"
	"restgen.dev/internal/query"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
	"restgen.dev/internal/validation"
)

// Request is one action call. Model is a registry slug.
type Request struct {
	Principal *auth.Principal
	Scope     *tenant.Scope
	Model     string
	ID        string
	Query     url.Values
	Payload   map[string]any
}

// Response carries a single record. Degraded is set when the mutation
// committed but its audit entry could not be written.
type Response struct {
	Record   store.Record
	Degraded bool
}

// List is a page of records.
type List struct {
	Records []store.Record
	Page    query.Page
}

// AuditTrail is a page of audit entries.
type AuditTrail struct {
	Entries []*audit.Entry
	Page    query.Page
}

type Engine struct {
	reg      *registry.Registry
	st       store.Store
	authz    *auth.Authorizer
	compiler *query.Compiler
	recorder *audit.Recorder
	nested   *nested.Executor
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Engine)

func WithClock(fn func() time.Time) Option { return func(e *Engine) { e.now = fn } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

func WithRecorder(r *audit.Recorder) Option { return func(e *Engine) { e.recorder = r } }

func New(reg *registry.Registry, st store.Store, authz *auth.Authorizer, cfg nested.Config, opts ...Option) *Engine {
	e := &Engine{
		reg:      reg,
		st:       st,
		authz:    authz,
		compiler: query.NewCompiler(reg, authz),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = obs.Logger()
	}
	if e.recorder == nil {
		e.recorder = audit.NewRecorder(audit.WithLogger(e.log), audit.WithClock(e.now))
	}
	e.nested = nested.NewExecutor(reg, st, mutator{e}, cfg, nested.WithLogger(e.log))
	return e
}

// Registry returns the registry the engine serves.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Storage returns the backing store.
func (e *Engine) Storage() store.Store { return e.st }

// resolve returns the model for req after the routing and permission checks
// that precede any data access.
func (e *Engine) resolve(req Request, action registry.Action) (*registry.Model, error) {
	m, err := e.reg.Resolve(req.Model)
	if err != nil {
		return nil, apierr.From(err)
	}
	if !m.Supports(action) {
		return nil, apierr.Wrap(apierr.KindUnknownResource, "", registry.ErrUnknownResource)
	}
	if err := e.authz.Check(req.Principal, m, action); err != nil {
		return nil, apierr.From(err)
	}
	return m, nil
}

// withActor fills the audit actor from the principal and scope when the
// transport has not done so.
func withActor(ctx context.Context, p *auth.Principal, scope *tenant.Scope) context.Context {
	a := audit.ActorFromContext(ctx)
	if a.UserID == "" {
		a.UserID = p.UserID()
	}
	if a.OrganizationID == "" {
		a.OrganizationID = scope.OrganizationID()
	}
	return audit.WithActor(ctx, a)
}

// rules resolves the validation contract for the principal's role.
func rules(p *auth.Principal, m *registry.Model, action registry.Action) (validation.FieldRules, error) {
	return validation.Resolve(m.Validation.Base, m.Validation.Layer(action), p.RoleSlug())
}

// strip removes the root model's hidden columns; included records were
// handled by the query runner.
func strip(p *auth.Principal, m *registry.Model, rec store.Record) {
	for _, col := range auth.HiddenColumns(p, m) {
		delete(rec, col)
	}
}
