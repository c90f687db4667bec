package audit

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"restgen.dev/internal/ids"
	"restgen.dev/internal/obs"
	"restgen.dev/internal/registry"
)

// DefaultExclude lists fields never captured in audit values.
var DefaultExclude = []string{
	"password", "password_confirmation", "password_hash",
	"remember_token", "api_token", "token", "secret",
}

// Timestamps do not count as changes.
var ignoredInDiff = registry.NewSet(registry.ColumnCreatedAt, registry.ColumnUpdatedAt)

// Recorder builds and writes audit entries.
type Recorder struct {
	log       *zap.Logger
	now       func() time.Time
	onFailure func(model string)
}

type Option func(*Recorder)

func WithLogger(l *zap.Logger) Option { return func(r *Recorder) { r.log = l } }

func WithClock(fn func() time.Time) Option { return func(r *Recorder) { r.now = fn } }

// WithFailureHook replaces the default failure counter.
func WithFailureHook(fn func(model string)) Option { return func(r *Recorder) { r.onFailure = fn } }

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now, onFailure: obs.AuditWriteFailed}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes the entry for a change to one record of m. It returns true
// when the write failed; the failure is logged and never returned, so the
// caller's mutation stands.
func (r *Recorder) Record(ctx context.Context, w Writer, m *registry.Model, event Event, id string, before, after map[string]any) (degraded bool) {
	e := r.Build(ctx, m, event, id, before, after)
	if e == nil {
		return false
	}
	if err := w.Append(ctx, e); err != nil {
		r.logger().Warn("audit write failed",
			zap.String("model", m.Slug),
			zap.String("auditable_id", id),
			zap.String("event", string(event)),
			zap.String("request_id", e.RequestID),
			zap.Error(err),
		)
		if r.onFailure != nil {
			r.onFailure(m.Slug)
		}
		return true
	}
	return false
}

// Build returns the entry for a change, or nil when nothing is to be recorded.
func (r *Recorder) Build(ctx context.Context, m *registry.Model, event Event, id string, before, after map[string]any) *Entry {
	if !m.Audit.Enabled {
		return nil
	}
	exclude := registry.NewSet(DefaultExclude...)
	for _, f := range m.Audit.Exclude {
		exclude[f] = struct{}{}
	}

	var oldValues, newValues map[string]any
	switch event {
	case EventCreated, EventRestored:
		newValues = scrub(after, exclude)
	case EventUpdated:
		oldValues, newValues = diff(scrub(before, exclude), scrub(after, exclude))
		if len(newValues) == 0 {
			return nil
		}
	case EventDeleted, EventForceDeleted:
		oldValues = scrub(before, exclude)
	default:
		return nil
	}

	actor := ActorFromContext(ctx)
	return &Entry{
		ID:             ids.New(),
		AuditableType:  m.Slug,
		AuditableID:    id,
		Event:          event,
		OldValues:      oldValues,
		NewValues:      newValues,
		UserID:         actor.UserID,
		OrganizationID: actor.OrganizationID,
		IPAddress:      actor.IPAddress,
		UserAgent:      actor.UserAgent,
		RequestID:      actor.RequestID,
		CreatedAt:      r.now().UTC(),
	}
}

func (r *Recorder) logger() *zap.Logger {
	if r.log != nil {
		return r.log
	}
	return obs.Logger()
}

func diff(before, after map[string]any) (map[string]any, map[string]any) {
	oldValues := map[string]any{}
	newValues := map[string]any{}
	for k, nv := range after {
		if ignoredInDiff.Has(k) {
			continue
		}
		ov, had := before[k]
		if had && sameValue(ov, nv) {
			continue
		}
		oldValues[k] = ov
		newValues[k] = nv
	}
	return oldValues, newValues
}

// scrub deep-copies rec without excluded keys at any nesting level.
func scrub(rec map[string]any, exclude registry.Set) map[string]any {
	if rec == nil {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if exclude.Has(k) {
			continue
		}
		out[k] = scrubValue(v, exclude)
	}
	return out
}

func scrubValue(v any, exclude registry.Set) any {
	switch t := v.(type) {
	case map[string]any:
		return scrub(t, exclude)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = scrub(item, exclude)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = scrubValue(item, exclude)
		}
		return out
	}
	return v
}

func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
