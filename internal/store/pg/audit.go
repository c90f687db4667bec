package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"restgen.dev/internal/audit"
)

type auditLog struct{ s *Store }

const auditSavepoint = "restgen_audit"

// Append inserts the entry. Inside a transaction the insert runs under a
// savepoint so a failed write does not abort the surrounding work.
func (l auditLog) Append(ctx context.Context, e *audit.Entry) error {
	oldValues, err := jsonOrNull(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := jsonOrNull(e.NewValues)
	if err != nil {
		return err
	}
	insert := func() error {
		_, err := l.s.q.ExecContext(ctx, `
			insert into audit_logs (
				id, auditable_type, auditable_id, event, old_values, new_values,
				user_id, organization_id, ip_address, user_agent, request_id, created_at
			) values ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7,$8,$9,$10,$11,$12)
		`, e.ID, e.AuditableType, e.AuditableID, string(e.Event), oldValues, newValues,
			nullIfEmpty(e.UserID), nullIfEmpty(e.OrganizationID), nullIfEmpty(e.IPAddress),
			nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID), e.CreatedAt)
		return mapError(err)
	}
	if l.s.tx == nil {
		return insert()
	}
	if _, err := l.s.q.ExecContext(ctx, "savepoint "+auditSavepoint); err != nil {
		return err
	}
	if err := insert(); err != nil {
		if _, rbErr := l.s.q.ExecContext(ctx, "rollback to savepoint "+auditSavepoint); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		return err
	}
	_, err = l.s.q.ExecContext(ctx, "release savepoint "+auditSavepoint)
	return err
}

func (l auditLog) List(ctx context.Context, f audit.ListFilter) ([]*audit.Entry, int, error) {
	b := &builder{}
	var preds []string
	if f.AuditableType != "" {
		preds = append(preds, "auditable_type = "+b.arg(f.AuditableType))
	}
	if f.AuditableID != "" {
		preds = append(preds, "auditable_id = "+b.arg(f.AuditableID))
	}
	if f.OrganizationID != "" {
		preds = append(preds, "organization_id = "+b.arg(f.OrganizationID))
	}
	where := ""
	for i, p := range preds {
		if i == 0 {
			where = " where " + p
			continue
		}
		where += " and " + p
	}

	var total int
	if err := l.s.q.QueryRowContext(ctx, "select count(*) from audit_logs"+where, b.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	b.write(`select id, auditable_type, auditable_id, event, old_values, new_values,
		coalesce(user_id, ''), coalesce(organization_id, ''), coalesce(ip_address, ''),
		coalesce(user_agent, ''), coalesce(request_id, ''), created_at
		from audit_logs`, where, " order by created_at desc, id desc")
	b.window(f.Limit, f.Offset)
	rows, err := l.s.q.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var (
			e              audit.Entry
			event          string
			oldRaw, newRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.AuditableType, &e.AuditableID, &event, &oldRaw, &newRaw,
			&e.UserID, &e.OrganizationID, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Event = audit.Event(event)
		if e.OldValues, err = decodeValues(oldRaw); err != nil {
			return nil, 0, err
		}
		if e.NewValues, err = decodeValues(newRaw); err != nil {
			return nil, 0, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, total, rows.Err()
}

func jsonOrNull(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode audit values: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeValues(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode audit values: %w", err)
	}
	return out, nil
}
