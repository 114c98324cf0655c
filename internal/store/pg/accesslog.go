package pg

import (
	"context"
	"database/sql"

	"gatehouse.org/internal/audit"
)

// AccessLog is the append-only access log table.
type AccessLog struct {
	db *sql.DB
}

var _ audit.Log = (*AccessLog)(nil)

func (l *AccessLog) Append(ctx context.Context, e audit.Entry) error {
	_, err := l.db.ExecContext(ctx, `
		insert into access_log (id, occurred_at, actor_id, credential_id, owner_id, guest_name, method, result, outcome, details)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.OccurredAt.UTC(), e.ActorID, nullIfEmpty(e.CredentialID), nullIfEmpty(e.OwnerID),
		e.GuestName, e.Method, string(e.Result), e.Outcome, e.Details)
	return err
}

func (l *AccessLog) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		select id, occurred_at, actor_id, coalesce(credential_id, ''), coalesce(owner_id, ''),
		       guest_name, method, result, outcome, details
		from access_log
		where ($1 = '' or actor_id = $1)
		  and ($2 = '' or credential_id = $2)
		  and ($3 = '' or result = $3)
		  and ($4::timestamptz is null or occurred_at >= $4)
		  and ($5::timestamptz is null or occurred_at <= $5)
		order by occurred_at desc, id desc
		limit $6
	`, f.ActorID, f.CredentialID, string(f.Result), nullTimeValue(f.Since), nullTimeValue(f.Until), f.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			result string
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &e.CredentialID, &e.OwnerID,
			&e.GuestName, &e.Method, &result, &e.Outcome, &e.Details); err != nil {
			return nil, err
		}
		e.Result = audit.Result(result)
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
