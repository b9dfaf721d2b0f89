package postgres

import (
	"context"
	"fmt"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
)

const pageColumns = `id, project_id, branch_id, slug, name, path, is_home,
	html, js, thumbnail_url, updated_at`

func scanPage(row interface{ Scan(...any) error }) (*models.ProjectPage, error) {
	p := &models.ProjectPage{}
	err := row.Scan(&p.ID, &p.ProjectID, &p.BranchID, &p.Slug, &p.Name, &p.Path,
		&p.IsHome, &p.HTML, &p.JS, &p.ThumbnailURL, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPage inserts or updates a page. When the page claims home, the
// previous home page of the branch is demoted first, inside one transaction,
// so the partial unique index on (project, branch) WHERE is_home never
// trips.
func (p *Postgres) UpsertPage(ctx context.Context, page *models.ProjectPage) error {
	run := func(q querier) error {
		if page.IsHome {
			_, err := q.ExecContext(ctx, `
				UPDATE project_pages
				SET is_home = FALSE, path = '/' || slug, updated_at = now()
				WHERE project_id = $1 AND branch_id = $2 AND slug <> $3 AND is_home`,
				page.ProjectID, page.BranchID, page.Slug)
			if err != nil {
				return fmt.Errorf("demoting previous home page: %w", err)
			}
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO project_pages (id, project_id, branch_id, slug, name, path,
				is_home, html, js, thumbnail_url, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (project_id, branch_id, slug) DO UPDATE SET
				name = EXCLUDED.name,
				path = EXCLUDED.path,
				is_home = EXCLUDED.is_home,
				html = EXCLUDED.html,
				js = EXCLUDED.js,
				updated_at = now()`,
			page.ID, page.ProjectID, page.BranchID, page.Slug, page.Name, page.Path,
			page.IsHome, page.HTML, page.JS, page.ThumbnailURL)
		if err != nil {
			return fmt.Errorf("upserting page %s: %w", page.Slug, err)
		}
		return nil
	}

	if p.db == nil {
		return run(p.q)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := run(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *Postgres) GetPage(ctx context.Context, projectID, branchID, slug string) (*models.ProjectPage, error) {
	row := p.q.QueryRowContext(ctx, `
		SELECT `+pageColumns+` FROM project_pages
		WHERE project_id = $1 AND branch_id = $2 AND slug = $3`,
		projectID, branchID, slug)
	page, err := scanPage(row)
	if err != nil {
		return nil, notFound(err, "page", slug)
	}
	return page, nil
}

func (p *Postgres) ListPages(ctx context.Context, projectID, branchID string) ([]*models.ProjectPage, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM project_pages
		WHERE project_id = $1 AND branch_id = $2
		ORDER BY is_home DESC, slug`,
		projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	defer rows.Close()

	var out []*models.ProjectPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning page row: %w", err)
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

// ReplacePages swaps the whole page set of a branch atomically.
func (p *Postgres) ReplacePages(ctx context.Context, projectID, branchID string, pages []*models.ProjectPage) error {
	run := func(q querier) error {
		_, err := q.ExecContext(ctx,
			`DELETE FROM project_pages WHERE project_id = $1 AND branch_id = $2`,
			projectID, branchID)
		if err != nil {
			return fmt.Errorf("clearing pages: %w", err)
		}
		for _, page := range pages {
			_, err := q.ExecContext(ctx, `
				INSERT INTO project_pages (id, project_id, branch_id, slug, name, path,
					is_home, html, js, thumbnail_url, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
				page.ID, page.ProjectID, page.BranchID, page.Slug, page.Name, page.Path,
				page.IsHome, page.HTML, page.JS, page.ThumbnailURL)
			if err != nil {
				return fmt.Errorf("inserting page %s: %w", page.Slug, err)
			}
		}
		return nil
	}

	if p.db == nil {
		return run(p.q)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := run(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *Postgres) SetThumbnailURL(ctx context.Context, projectID, branchID, slug, url string) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE project_pages SET thumbnail_url = $4, updated_at = now()
		WHERE project_id = $1 AND branch_id = $2 AND slug = $3`,
		projectID, branchID, slug, url)
	if err != nil {
		return fmt.Errorf("setting thumbnail url for %s: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("page %s: %w", slug, store.ErrNotFound)
	}
	return nil
}

// --- BranchStore ---

// CreateBranch inserts a branch, enforcing the per-project cap inside one
// transaction with the count locked against concurrent inserts.
func (p *Postgres) CreateBranch(ctx context.Context, branch *models.Branch) error {
	run := func(q querier) error {
		// Lock the existing branch rows so two concurrent creates cannot
		// both pass the cap check.
		rows, err := q.QueryContext(ctx,
			`SELECT id FROM branches WHERE project_id = $1 FOR UPDATE`,
			branch.ProjectID)
		if err != nil {
			return fmt.Errorf("counting branches: %w", err)
		}
		count := 0
		for rows.Next() {
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("counting branches: %w", err)
		}
		rows.Close()
		if count >= models.MaxBranchesPerProject {
			return fmt.Errorf("project %s has %d branches: %w",
				branch.ProjectID, count, store.ErrBranchLimit)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO branches (id, project_id, name, label, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			branch.ID, branch.ProjectID, branch.Name, branch.Label,
			branch.IsActive, branch.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting branch %s: %w", branch.ID, err)
		}
		return nil
	}

	if p.db == nil {
		return run(p.q)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := run(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *Postgres) GetBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	b := &models.Branch{}
	err := p.q.QueryRowContext(ctx, `
		SELECT id, project_id, name, label, is_active, created_at
		FROM branches WHERE id = $1`, branchID).
		Scan(&b.ID, &b.ProjectID, &b.Name, &b.Label, &b.IsActive, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err, "branch", branchID)
	}
	return b, nil
}

func (p *Postgres) ListBranches(ctx context.Context, projectID string) ([]*models.Branch, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, project_id, name, label, is_active, created_at
		FROM branches WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	defer rows.Close()

	var out []*models.Branch
	for rows.Next() {
		b := &models.Branch{}
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Label,
			&b.IsActive, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning branch row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) ActiveBranch(ctx context.Context, projectID string) (*models.Branch, error) {
	b := &models.Branch{}
	err := p.q.QueryRowContext(ctx, `
		SELECT id, project_id, name, label, is_active, created_at
		FROM branches WHERE project_id = $1 AND is_active`, projectID).
		Scan(&b.ID, &b.ProjectID, &b.Name, &b.Label, &b.IsActive, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err, "active branch for project", projectID)
	}
	return b, nil
}

func (p *Postgres) SetActiveBranch(ctx context.Context, projectID, branchID string) error {
	run := func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE branches SET is_active = (id = $2)
			WHERE project_id = $1`, projectID, branchID)
		if err != nil {
			return fmt.Errorf("switching active branch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("branch %s: %w", branchID, store.ErrNotFound)
		}
		return nil
	}
	return run(p.q)
}
