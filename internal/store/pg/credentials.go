package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatehouse.org/internal/credential"
)

const credentialColumns = `id, owner_id, guest_name, code_type, code, valid_from, valid_until,
	max_usage, usage_count, status, purpose, created_at, revoked_at, last_used_at, version`

// CredentialStore implements credential.Store. Code uniqueness among held
// codes is serialised with a transaction-scoped advisory lock on the code.
type CredentialStore struct {
	db *sql.DB
}

var _ credential.Store = (*CredentialStore)(nil)

func (s *CredentialStore) Create(ctx context.Context, cred credential.Credential, asOf time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, cred.Code); err != nil {
		return err
	}
	var holder string
	err = tx.QueryRowContext(ctx, `
		select id from guest_credentials
		where code = $1 and status = 'active' and valid_until >= $2
		limit 1
	`, cred.Code, asOf.UTC()).Scan(&holder)
	switch {
	case err == nil:
		return credential.ErrCodeInUse
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into guest_credentials (`+credentialColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, cred.ID, cred.OwnerID, cred.GuestName, string(cred.CodeType), cred.Code,
		cred.ValidFrom.UTC(), cred.ValidUntil.UTC(), cred.MaxUsage, cred.UsageCount,
		string(cred.Status), cred.Purpose, cred.CreatedAt.UTC(),
		nullTime(cred.RevokedAt), nullTime(cred.LastUsedAt), cred.Version); err != nil {
		if isUniqueViolation(err) {
			return credential.ErrDuplicateID
		}
		return err
	}
	return tx.Commit()
}

func (s *CredentialStore) Get(ctx context.Context, id string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `select `+credentialColumns+` from guest_credentials where id = $1`, id)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	return cred, err
}

// FindByCode orders holders of the code first, then the newest record.
func (s *CredentialStore) FindByCode(ctx context.Context, code string, asOf time.Time) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+credentialColumns+` from guest_credentials
		where code = $1
		order by (status = 'active' and valid_until >= $2) desc, created_at desc, id desc
		limit 1
	`, code, asOf.UTC())
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	return cred, err
}

// CompareAndSwap never rewrites identity columns: id, owner, code and creation time.
func (s *CredentialStore) CompareAndSwap(ctx context.Context, next credential.Credential, expectedVersion int64) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		update guest_credentials set
			guest_name = $3, valid_from = $4, valid_until = $5, max_usage = $6,
			usage_count = $7, status = $8, purpose = $9, revoked_at = $10,
			last_used_at = $11, version = version + 1
		where id = $1 and version = $2
		returning `+credentialColumns,
		next.ID, expectedVersion, next.GuestName, next.ValidFrom.UTC(), next.ValidUntil.UTC(),
		next.MaxUsage, next.UsageCount, string(next.Status), next.Purpose,
		nullTime(next.RevokedAt), nullTime(next.LastUsedAt))
	updated, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, s.missOrConflict(ctx, next.ID)
	}
	return updated, err
}

func (s *CredentialStore) missOrConflict(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from guest_credentials where id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.ErrNotFound
	}
	if err != nil {
		return err
	}
	return credential.ErrVersionConflict
}

func (s *CredentialStore) List(ctx context.Context, filter credential.Filter) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+credentialColumns+` from guest_credentials
		where ($1 = '' or owner_id = $1)
		order by created_at desc, id desc
	`, filter.OwnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func scanCredential(row rowScanner) (credential.Credential, error) {
	var (
		c                   credential.Credential
		codeType, status    string
		revokedAt, lastUsed sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.GuestName, &codeType, &c.Code, &c.ValidFrom, &c.ValidUntil,
		&c.MaxUsage, &c.UsageCount, &status, &c.Purpose, &c.CreatedAt, &revokedAt, &lastUsed, &c.Version); err != nil {
		return credential.Credential{}, err
	}
	c.CodeType = credential.CodeType(codeType)
	c.Status = credential.Status(status)
	c.ValidFrom = c.ValidFrom.UTC()
	c.ValidUntil = c.ValidUntil.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.RevokedAt = timePtr(revokedAt)
	c.LastUsedAt = timePtr(lastUsed)
	return c, nil
}
