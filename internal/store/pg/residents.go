package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/directory"
)

// ResidentDirectory serves resident lookups from the residents table.
type ResidentDirectory struct {
	db *sql.DB
}

var (
	_ directory.Directory = (*ResidentDirectory)(nil)
	_ directory.Lister    = (*ResidentDirectory)(nil)
)

func (r *ResidentDirectory) LookupResident(ctx context.Context, id string) (directory.Resident, error) {
	var res directory.Resident
	err := r.db.QueryRowContext(ctx, `select id, name, unit_number from residents where id = $1`, id).
		Scan(&res.ID, &res.Name, &res.UnitNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Resident{}, directory.ErrNotFound
	}
	return res, err
}

func (r *ResidentDirectory) Residents(ctx context.Context) ([]directory.Resident, error) {
	rows, err := r.db.QueryContext(ctx, `select id, name, unit_number from residents order by unit_number, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Resident
	for rows.Next() {
		var res directory.Resident
		if err := rows.Scan(&res.ID, &res.Name, &res.UnitNumber); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a resident row.
func (r *ResidentDirectory) Upsert(ctx context.Context, res directory.Resident) error {
	_, err := r.db.ExecContext(ctx, `
		insert into residents (id, name, unit_number) values ($1, $2, $3)
		on conflict (id) do update set name = excluded.name, unit_number = excluded.unit_number
	`, res.ID, res.Name, res.UnitNumber)
	return err
}
