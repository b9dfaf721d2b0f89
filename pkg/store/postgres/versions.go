package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

func (p *Postgres) CreateVersion(ctx context.Context, v *models.Version) error {
	summary, err := marshalJSON(v.Summary)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO versions (id, project_id, parent_id, branch_id, change_summary,
			validation_status, pinned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.ProjectID, v.ParentID, v.BranchID, summary,
		v.ValidationStatus, v.Pinned, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting version %s: %w", v.ID, err)
	}
	return nil
}

const versionColumns = `id, project_id, parent_id, branch_id, change_summary,
	validation_status, pinned, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*models.Version, error) {
	v := &models.Version{}
	var summary []byte
	err := row.Scan(&v.ID, &v.ProjectID, &v.ParentID, &v.BranchID, &summary,
		&v.ValidationStatus, &v.Pinned, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &v.Summary); err != nil {
		return nil, fmt.Errorf("decoding change summary for %s: %w", v.ID, err)
	}
	return v, nil
}

func (p *Postgres) GetVersion(ctx context.Context, versionID string) (*models.Version, error) {
	row := p.q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "version", versionID)
	}
	return v, nil
}

func (p *Postgres) ListVersions(ctx context.Context, projectID, branchID string) ([]*models.Version, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM versions
		WHERE project_id = $1 AND branch_id = $2
		ORDER BY created_at DESC, id DESC`, projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var out []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateVersion(ctx context.Context, v *models.Version) error {
	summary, err := marshalJSON(v.Summary)
	if err != nil {
		return err
	}
	res, err := p.q.ExecContext(ctx, `
		UPDATE versions SET parent_id = $2, branch_id = $3, change_summary = $4,
			validation_status = $5, pinned = $6
		WHERE id = $1`,
		v.ID, v.ParentID, v.BranchID, summary, v.ValidationStatus, v.Pinned)
	if err != nil {
		return fmt.Errorf("updating version %s: %w", v.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundRows("version", v.ID)
	}
	return nil
}

func (p *Postgres) DeleteVersion(ctx context.Context, versionID string) error {
	// Snapshot and diff rows cascade.
	_, err := p.q.ExecContext(ctx, `DELETE FROM versions WHERE id = $1`, versionID)
	if err != nil {
		return fmt.Errorf("deleting version %s: %w", versionID, err)
	}
	return nil
}

// --- snapshots ---

func (p *Postgres) SaveSnapshot(ctx context.Context, snap *models.VersionSnapshot) error {
	pages, err := marshalJSON(snap.Pages)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO version_snapshots (version_id, pages, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (version_id) DO UPDATE SET pages = EXCLUDED.pages`,
		snap.VersionID, pages, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", snap.VersionID, err)
	}
	return nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	snap := &models.VersionSnapshot{}
	var pages []byte
	err := p.q.QueryRowContext(ctx, `
		SELECT version_id, pages, created_at FROM version_snapshots
		WHERE version_id = $1`, versionID).
		Scan(&snap.VersionID, &pages, &snap.CreatedAt)
	if err != nil {
		return nil, notFound(err, "snapshot", versionID)
	}
	if err := json.Unmarshal(pages, &snap.Pages); err != nil {
		return nil, fmt.Errorf("decoding snapshot pages %s: %w", versionID, err)
	}
	return snap, nil
}

func (p *Postgres) DeleteSnapshot(ctx context.Context, versionID string) error {
	_, err := p.q.ExecContext(ctx,
		`DELETE FROM version_snapshots WHERE version_id = $1`, versionID)
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", versionID, err)
	}
	return nil
}

// --- diffs ---

func (p *Postgres) SaveDiff(ctx context.Context, diff *models.VersionDiff) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO version_diffs (version_id, base_version_id, patch, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version_id) DO UPDATE SET
			base_version_id = EXCLUDED.base_version_id,
			patch = EXCLUDED.patch`,
		diff.VersionID, diff.BaseVersionID, diff.Patch, diff.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving diff %s: %w", diff.VersionID, err)
	}
	return nil
}

func (p *Postgres) GetDiff(ctx context.Context, versionID string) (*models.VersionDiff, error) {
	d := &models.VersionDiff{}
	err := p.q.QueryRowContext(ctx, `
		SELECT version_id, base_version_id, patch, created_at
		FROM version_diffs WHERE version_id = $1`, versionID).
		Scan(&d.VersionID, &d.BaseVersionID, &d.Patch, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err, "diff", versionID)
	}
	return d, nil
}

func (p *Postgres) DeleteDiff(ctx context.Context, versionID string) error {
	_, err := p.q.ExecContext(ctx,
		`DELETE FROM version_diffs WHERE version_id = $1`, versionID)
	if err != nil {
		return fmt.Errorf("deleting diff %s: %w", versionID, err)
	}
	return nil
}

func (p *Postgres) ListDiffsBasedOn(ctx context.Context, baseVersionID string) ([]*models.VersionDiff, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT version_id, base_version_id, patch, created_at
		FROM version_diffs WHERE base_version_id = $1 ORDER BY version_id`,
		baseVersionID)
	if err != nil {
		return nil, fmt.Errorf("listing diffs based on %s: %w", baseVersionID, err)
	}
	defer rows.Close()

	var out []*models.VersionDiff
	for rows.Next() {
		d := &models.VersionDiff{}
		if err := rows.Scan(&d.VersionID, &d.BaseVersionID, &d.Patch, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning diff row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- attempts ---

func (p *Postgres) SaveAttempt(ctx context.Context, attempt *models.VersionAttempt) error {
	diagnostics, err := marshalJSON(attempt.Diagnostics)
	if err != nil {
		return err
	}
	pages, err := marshalJSON(attempt.Pages)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO version_attempts (id, project_id, branch_id, error, diagnostics, pages, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.ProjectID, attempt.BranchID, attempt.Error,
		diagnostics, pages, attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving version attempt %s: %w", attempt.ID, err)
	}
	return nil
}

func (p *Postgres) ListAttempts(ctx context.Context, projectID string) ([]*models.VersionAttempt, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, project_id, branch_id, error, diagnostics, pages, created_at
		FROM version_attempts WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("listing version attempts: %w", err)
	}
	defer rows.Close()

	var out []*models.VersionAttempt
	for rows.Next() {
		a := &models.VersionAttempt{}
		var diagnostics, pages []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.BranchID, &a.Error,
			&diagnostics, &pages, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		if err := json.Unmarshal(diagnostics, &a.Diagnostics); err != nil {
			return nil, fmt.Errorf("decoding attempt diagnostics %s: %w", a.ID, err)
		}
		if err := json.Unmarshal(pages, &a.Pages); err != nil {
			return nil, fmt.Errorf("decoding attempt pages %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
