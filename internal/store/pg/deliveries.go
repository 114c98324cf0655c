package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/delivery"
)

const deliveryColumns = `id, resident_id, unit_number, delivery_company, tracking_number, expected_date,
	notes, status, authorized_at, delivered_at, resolved_at, resolved_by, version`

// DeliveryStore implements delivery.Store.
type DeliveryStore struct {
	db *sql.DB
}

var _ delivery.Store = (*DeliveryStore)(nil)

func (s *DeliveryStore) Create(ctx context.Context, d delivery.Delivery) error {
	_, err := s.db.ExecContext(ctx, `
		insert into deliveries (`+deliveryColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, d.ID, d.ResidentID, d.UnitNumber, d.DeliveryCompany, d.TrackingNumber, d.ExpectedDate.UTC(),
		d.Notes, string(d.Status), d.AuthorizedAt.UTC(), nullTime(d.DeliveredAt), nullTime(d.ResolvedAt),
		d.ResolvedBy, d.Version)
	if isUniqueViolation(err) {
		return delivery.ErrDuplicateID
	}
	return err
}

func (s *DeliveryStore) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `select `+deliveryColumns+` from deliveries where id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return d, err
}

func (s *DeliveryStore) CompareAndSwap(ctx context.Context, next delivery.Delivery, expectedVersion int64) (delivery.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `
		update deliveries set
			unit_number = $3, delivery_company = $4, tracking_number = $5, expected_date = $6,
			notes = $7, status = $8, delivered_at = $9, resolved_at = $10, resolved_by = $11,
			version = version + 1
		where id = $1 and version = $2
		returning `+deliveryColumns,
		next.ID, expectedVersion, next.UnitNumber, next.DeliveryCompany, next.TrackingNumber,
		next.ExpectedDate.UTC(), next.Notes, string(next.Status), nullTime(next.DeliveredAt),
		nullTime(next.ResolvedAt), next.ResolvedBy)
	updated, err := scanDelivery(row)
	if !errors.Is(err, sql.ErrNoRows) {
		return updated, err
	}

	var one int
	err = s.db.QueryRowContext(ctx, `select 1 from deliveries where id = $1`, next.ID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return delivery.Delivery{}, delivery.ErrNotFound
	case err != nil:
		return delivery.Delivery{}, err
	}
	return delivery.Delivery{}, delivery.ErrVersionConflict
}

func (s *DeliveryStore) List(ctx context.Context, f delivery.Filter) ([]delivery.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+deliveryColumns+` from deliveries
		where ($1 = '' or resident_id = $1)
		  and ($2 = '' or unit_number = $2)
		  and ($3 = '' or status = $3)
		order by expected_date asc, id asc
	`, f.ResidentID, f.UnitNumber, string(f.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row rowScanner) (delivery.Delivery, error) {
	var (
		d                     delivery.Delivery
		status                string
		deliveredAt, resolved sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.ResidentID, &d.UnitNumber, &d.DeliveryCompany, &d.TrackingNumber, &d.ExpectedDate,
		&d.Notes, &status, &d.AuthorizedAt, &deliveredAt, &resolved, &d.ResolvedBy, &d.Version); err != nil {
		return delivery.Delivery{}, err
	}
	d.Status = delivery.Status(status)
	d.ExpectedDate = d.ExpectedDate.UTC()
	d.AuthorizedAt = d.AuthorizedAt.UTC()
	d.DeliveredAt = timePtr(deliveredAt)
	d.ResolvedAt = timePtr(resolved)
	return d, nil
}
