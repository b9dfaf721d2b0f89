// Package postgres implements store.Store with hand-written SQL over a
// pooled database/sql connection using the pgx driver. Queue claims use
// FOR UPDATE SKIP LOCKED so multiple workers never double-claim a job.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres is the production store.Store.
type Postgres struct {
	db *sql.DB
	q  querier
}

var _ store.Store = (*Postgres)(nil)

// New creates a store over the given pool.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// WithTx runs fn against a store bound to one transaction. Used by version
// compression and rollback, which must see and mutate a consistent history.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx store.VersionStore) error) error {
	if p.db == nil {
		return errors.New("store is already transaction-bound")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &Postgres{q: tx}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// notFound maps sql.ErrNoRows onto the store sentinel.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

// notFoundRows is notFound for zero-rows-affected updates.
func notFoundRows(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling for storage: %w", err)
	}
	return data, nil
}

// --- BuildStateStore ---

func (p *Postgres) SaveBuildState(ctx context.Context, state *models.BuildState) error {
	data, err := marshalJSON(state)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO build_states (build_id, project_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (build_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = now()`,
		state.BuildID, state.ProjectID, data)
	if err != nil {
		return fmt.Errorf("saving build state %s: %w", state.BuildID, err)
	}
	return nil
}

func (p *Postgres) GetBuildState(ctx context.Context, buildID string) (*models.BuildState, error) {
	var data []byte
	err := p.q.QueryRowContext(ctx,
		`SELECT state FROM build_states WHERE build_id = $1`, buildID).Scan(&data)
	if err != nil {
		return nil, notFound(err, "build state", buildID)
	}
	var state models.BuildState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding build state %s: %w", buildID, err)
	}
	return &state, nil
}

// --- BuildPlanStore ---

func (p *Postgres) SaveBuildPlan(ctx context.Context, plan *models.BuildPlan) error {
	tasks, err := marshalJSON(plan.Tasks)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO build_plans (id, session_id, project_id, status, tasks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tasks = EXCLUDED.tasks,
			updated_at = now()`,
		plan.ID, plan.SessionID, plan.ProjectID, plan.Status, tasks, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving build plan %s: %w", plan.ID, err)
	}
	return nil
}

func (p *Postgres) GetBuildPlan(ctx context.Context, planID string) (*models.BuildPlan, error) {
	plan := &models.BuildPlan{}
	var tasks []byte
	err := p.q.QueryRowContext(ctx, `
		SELECT id, session_id, project_id, status, tasks, created_at, updated_at
		FROM build_plans WHERE id = $1`, planID).
		Scan(&plan.ID, &plan.SessionID, &plan.ProjectID, &plan.Status,
			&tasks, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "build plan", planID)
	}
	if err := json.Unmarshal(tasks, &plan.Tasks); err != nil {
		return nil, fmt.Errorf("decoding plan tasks %s: %w", planID, err)
	}
	return plan, nil
}

func (p *Postgres) ListPlansByStatus(ctx context.Context, status models.PlanStatus) ([]*models.BuildPlan, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, session_id, project_id, status, tasks, created_at, updated_at
		FROM build_plans WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("listing plans by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []*models.BuildPlan
	for rows.Next() {
		plan := &models.BuildPlan{}
		var tasks []byte
		if err := rows.Scan(&plan.ID, &plan.SessionID, &plan.ProjectID, &plan.Status,
			&tasks, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning plan row: %w", err)
		}
		if err := json.Unmarshal(tasks, &plan.Tasks); err != nil {
			return nil, fmt.Errorf("decoding plan tasks %s: %w", plan.ID, err)
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

// --- ProductDocStore ---

func (p *Postgres) SaveProductDoc(ctx context.Context, doc *models.ProductDoc) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO product_docs (project_id, content, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (project_id) DO UPDATE SET
			content = EXCLUDED.content,
			updated_at = now()`,
		doc.ProjectID, doc.Content)
	if err != nil {
		return fmt.Errorf("saving product doc for %s: %w", doc.ProjectID, err)
	}
	return nil
}

func (p *Postgres) GetProductDoc(ctx context.Context, projectID string) (*models.ProductDoc, error) {
	doc := &models.ProductDoc{}
	err := p.q.QueryRowContext(ctx, `
		SELECT project_id, content, updated_at FROM product_docs WHERE project_id = $1`,
		projectID).Scan(&doc.ProjectID, &doc.Content, &doc.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "product doc", projectID)
	}
	return doc, nil
}
