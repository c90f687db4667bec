// Package audit captures before/after field deltas of mutating operations.
package audit

import (
	"context"
	"strings"
	"time"
)

// Event is the kind of change an entry records.
type Event string

const (
	EventCreated      Event = "created"
	EventUpdated      Event = "updated"
	EventDeleted      Event = "deleted"
	EventForceDeleted Event = "force_deleted"
	EventRestored     Event = "restored"
)

// Entry is one audit record.
type Entry struct {
	ID             string         `json:"id"`
	AuditableType  string         `json:"auditable_type"`
	AuditableID    string         `json:"auditable_id"`
	Event          Event          `json:"event"`
	OldValues      map[string]any `json:"old_values"`
	NewValues      map[string]any `json:"new_values"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Writer persists entries. Implementations write through the caller's
// transaction so that rolled back work leaves no entries behind.
type Writer interface {
	Append(ctx context.Context, e *Entry) error
}

// ListFilter selects the trail of one record, newest first.
type ListFilter struct {
	AuditableType  string
	AuditableID    string
	OrganizationID string
	Limit          int
	Offset         int
}

// Actor describes who performed a change.
type Actor struct {
	UserID         string
	OrganizationID string
	IPAddress      string
	UserAgent      string
	RequestID      string
}

type actorKey struct{}

// WithActor attaches the acting user and request metadata to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// WithRequestID sets only the request identifier, keeping any actor fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	a := ActorFromContext(ctx)
	a.RequestID = requestID
	return WithActor(ctx, a)
}
