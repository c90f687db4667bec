// Package nested executes ordered batches of create, update and delete
// operations atomically, letting later steps reference earlier results.
package nested

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/obs"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
	"restgen.dev/internal/validation"
)

// DefaultMaxOperations caps a batch when no limit is configured.
const DefaultMaxOperations = 50

// Batch actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

var actions = map[string]registry.Action{
	ActionCreate: registry.ActionStore,
	ActionUpdate: registry.ActionUpdate,
	ActionDelete: registry.ActionDestroy,
}

// Operation is one step of a batch. String values of ID and of top-level
// Data fields may be references of the form $N.path.
type Operation struct {
	Action string         `json:"action"`
	Model  string         `json:"model"`
	ID     any            `json:"id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Result is the outcome of one step.
type Result struct {
	Action string       `json:"action"`
	Model  string       `json:"model"`
	ID     any          `json:"id"`
	Data   store.Record `json:"data"`
}

// Mutator performs the single-record work of a step. Every method receives
// the batch transaction; none of them commits.
type Mutator interface {
	Authorize(ctx context.Context, p *auth.Principal, m *registry.Model, action registry.Action) error
	Rules(p *auth.Principal, m *registry.Model, action registry.Action) (validation.FieldRules, error)
	Create(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, data map[string]any) (store.Record, bool, error)
	Update(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, id string, data map[string]any) (store.Record, bool, error)
	Delete(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, m *registry.Model, id string) (store.Record, bool, error)
}

// Config bounds what a batch may do. An empty AllowedModels permits every
// registered model.
type Config struct {
	MaxOperations int
	AllowedModels []string
}

type Executor struct {
	reg     *registry.Registry
	st      store.Store
	mut     Mutator
	max     int
	allowed registry.Set
	log     *zap.Logger
}

type Option func(*Executor)

func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.log = l } }

func NewExecutor(reg *registry.Registry, st store.Store, mut Mutator, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		reg:     reg,
		st:      st,
		mut:     mut,
		max:     cfg.MaxOperations,
		allowed: registry.NewSet(cfg.AllowedModels...),
	}
	if e.max <= 0 {
		e.max = DefaultMaxOperations
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = obs.Logger()
	}
	return e
}

// step is a checked operation.
type step struct {
	op     Operation
	model  *registry.Model
	action registry.Action
	rules  validation.FieldRules
}

// Execute checks the whole batch, then runs it in one transaction. It
// returns the per-step results and whether any audit write was degraded.
func (e *Executor) Execute(ctx context.Context, p *auth.Principal, scope *tenant.Scope, ops []Operation) ([]Result, bool, error) {
	steps, err := e.preflight(ctx, p, ops)
	if err != nil {
		obs.NestedBatch("rejected")
		return nil, false, err
	}

	var (
		results  []Result
		degraded bool
	)
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		results = make([]Result, 0, len(steps))
		for i, s := range steps {
			res, d, err := e.run(ctx, tx, p, scope, i, s, results)
			if err != nil {
				return stepError(i, err)
			}
			degraded = degraded || d
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		obs.NestedBatch("rolled_back")
		e.log.Info("nested batch rolled back", zap.Int("operations", len(ops)), zap.Error(err))
		return nil, false, err
	}
	obs.NestedBatch("committed")
	return results, degraded, nil
}

// preflight rejects the batch before any storage access: structure and
// references first, then authorization, then validation with referenced
// fields deferred.
func (e *Executor) preflight(ctx context.Context, p *auth.Principal, ops []Operation) ([]step, error) {
	if len(ops) == 0 {
		return nil, apierr.BatchValidation(map[string][]string{
			"operations": {"The operations field is required."},
		})
	}
	if len(ops) > e.max {
		return nil, apierr.BatchValidation(map[string][]string{
			"operations": {fmt.Sprintf("The operations field may not have more than %d items.", e.max)},
		})
	}

	errs := validation.Errors{}
	steps := make([]step, len(ops))
	for i, op := range ops {
		prefix := "operations." + strconv.Itoa(i) + "."
		action, ok := actions[op.Action]
		if !ok {
			errs[prefix+"action"] = append(errs[prefix+"action"], "The selected action is invalid.")
			continue
		}
		if len(e.allowed) > 0 && !e.allowed.Has(op.Model) {
			errs[prefix+"model"] = append(errs[prefix+"model"], "The selected model is not allowed in nested operations.")
			continue
		}
		m, err := e.reg.Resolve(op.Model)
		if err != nil || !m.Supports(action) {
			errs[prefix+"model"] = append(errs[prefix+"model"], "The selected model is invalid.")
			continue
		}
		if action != registry.ActionStore {
			if op.ID == nil || op.ID == "" {
				errs[prefix+"id"] = append(errs[prefix+"id"], "The id field is required.")
			} else if ref, ok := parseReference(op.ID); ok && ref.step >= i {
				errs[prefix+"id"] = append(errs[prefix+"id"], ref.String()+": "+errForwardReference.Error()+".")
			}
		}
		for field, v := range op.Data {
			if ref, ok := parseReference(v); ok && ref.step >= i {
				key := prefix + "data." + field
				errs[key] = append(errs[key], ref.String()+": "+errForwardReference.Error()+".")
			}
		}
		steps[i] = step{op: op, model: m, action: action}
	}
	if len(errs) > 0 {
		return nil, apierr.BatchValidation(errs)
	}

	for i, s := range steps {
		if err := e.mut.Authorize(ctx, p, s.model, s.action); err != nil {
			return nil, stepError(i, err)
		}
	}

	for i := range steps {
		s := &steps[i]
		if s.action == registry.ActionDestroy {
			continue
		}
		rules, err := e.mut.Rules(p, s.model, s.action)
		if err != nil {
			return nil, stepError(i, err)
		}
		s.rules = rules
		deferred := map[string]bool{}
		for field, v := range s.op.Data {
			if _, ok := parseReference(v); ok {
				deferred[field] = true
			}
		}
		_, err = validation.Validate(rules, s.op.Data, validation.Options{
			Messages: s.model.Validation.Messages,
			Deferred: deferred,
		})
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			for k, v := range verrs.Prefixed("operations." + strconv.Itoa(i) + ".data.") {
				errs[k] = v
			}
		} else if err != nil {
			return nil, stepError(i, err)
		}
	}
	if len(errs) > 0 {
		return nil, apierr.BatchValidation(errs)
	}
	return steps, nil
}

// run resolves the step's references against earlier results, validates the
// resolved payload and applies it.
func (e *Executor) run(ctx context.Context, tx store.Store, p *auth.Principal, scope *tenant.Scope, i int, s step, results []Result) (Result, bool, error) {
	data := make(map[string]any, len(s.op.Data))
	for field, v := range s.op.Data {
		if ref, ok := parseReference(v); ok {
			resolved, err := ref.resolve(i, results)
			if err != nil {
				return Result{}, false, apierr.Wrap(apierr.KindReference, err.Error(), err)
			}
			v = resolved
		}
		data[field] = v
	}
	id := s.op.ID
	if ref, ok := parseReference(id); ok {
		resolved, err := ref.resolve(i, results)
		if err != nil {
			return Result{}, false, apierr.Wrap(apierr.KindReference, err.Error(), err)
		}
		id = resolved
	}

	var (
		rec      store.Record
		degraded bool
		err      error
	)
	switch s.action {
	case registry.ActionStore:
		clean, verr := e.validate(i, s, data)
		if verr != nil {
			return Result{}, false, verr
		}
		rec, degraded, err = e.mut.Create(ctx, tx, p, scope, s.model, clean)
	case registry.ActionUpdate:
		clean, verr := e.validate(i, s, data)
		if verr != nil {
			return Result{}, false, verr
		}
		rec, degraded, err = e.mut.Update(ctx, tx, p, scope, s.model, store.Text(id), clean)
	case registry.ActionDestroy:
		rec, degraded, err = e.mut.Delete(ctx, tx, p, scope, s.model, store.Text(id))
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return Result{}, false, apierr.BatchValidation(verrs.Prefixed("operations." + strconv.Itoa(i) + ".data."))
	}
	if err != nil {
		return Result{}, false, err
	}

	auth.StripHidden(rec, auth.HiddenColumns(p, s.model))
	return Result{
		Action: s.op.Action,
		Model:  s.model.Slug,
		ID:     rec[s.model.PrimaryKey],
		Data:   rec,
	}, degraded, nil
}

func (e *Executor) validate(i int, s step, data map[string]any) (map[string]any, error) {
	clean, err := validation.Validate(s.rules, data, validation.Options{Messages: s.model.Validation.Messages})
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return nil, apierr.BatchValidation(verrs.Prefixed("operations." + strconv.Itoa(i) + ".data."))
	}
	return clean, err
}

// stepError classifies err and tags it with the failing step.
func stepError(i int, err error) error {
	ae := apierr.From(err)
	if ae.Step == nil {
		ae.WithStep(i)
	}
	return ae
}
