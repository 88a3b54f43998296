package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/seedbox_resolver/internal/storage"
)

// Timestamps are stored as RFC3339 in UTC so they compare lexicographically.
const timeLayout = time.RFC3339

type ResolutionRepository struct {
	db *sql.DB
}

var _ storage.ResolutionRepository = (*ResolutionRepository)(nil)

func NewResolutionRepository(dbConn *sql.DB) *ResolutionRepository {
	return &ResolutionRepository{db: dbConn}
}

func (r *ResolutionRepository) SaveResolution(ctx context.Context, res *storage.Resolution) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resolutions (fingerprint, name, file_id, root_kind, root_id, resolved_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(fingerprint) DO UPDATE SET
			name = excluded.name,
			file_id = excluded.file_id,
			root_kind = excluded.root_kind,
			root_id = excluded.root_id,
			resolved_at = excluded.resolved_at,
			deleted_at = NULL
	`, res.Fingerprint, res.Name, res.FileID, res.RootKind, res.RootID, res.ResolvedAt.UTC().Format(timeLayout))

	return err
}

func (r *ResolutionRepository) MarkDeleted(ctx context.Context, fingerprint string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE resolutions SET deleted_at = ? WHERE fingerprint = ?`,
		at.UTC().Format(timeLayout), fingerprint,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *ResolutionRepository) GetResolution(ctx context.Context, fingerprint string) (*storage.Resolution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT fingerprint, name, file_id, root_kind, root_id, resolved_at, deleted_at
		FROM resolutions
		WHERE fingerprint = ?`, fingerprint)

	res, err := scanResolution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &res, nil
}

func (r *ResolutionRepository) GetExpiredResolutions(ctx context.Context, cutoff time.Time, limit int) ([]storage.Resolution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fingerprint, name, file_id, root_kind, root_id, resolved_at, deleted_at
		FROM resolutions
		WHERE deleted_at IS NULL
		AND resolved_at < ?
		ORDER BY resolved_at
		LIMIT ?`, cutoff.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resolutions []storage.Resolution

	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}

		resolutions = append(resolutions, res)
	}

	return resolutions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResolution(s scanner) (storage.Resolution, error) {
	var (
		res        storage.Resolution
		resolvedAt string
		deletedAt  sql.NullString
		name       sql.NullString
		fileID     sql.NullString
		rootKind   sql.NullString
		rootID     sql.NullString
	)

	if err := s.Scan(&res.Fingerprint, &name, &fileID, &rootKind, &rootID, &resolvedAt, &deletedAt); err != nil {
		return res, err
	}

	res.Name = name.String
	res.FileID = fileID.String
	res.RootKind = rootKind.String
	res.RootID = rootID.String

	t, err := time.Parse(timeLayout, resolvedAt)
	if err != nil {
		return res, err
	}

	res.ResolvedAt = t

	if deletedAt.Valid {
		d, err := time.Parse(timeLayout, deletedAt.String)
		if err != nil {
			return res, err
		}

		res.DeletedAt = &d
	}

	return res, nil
}
