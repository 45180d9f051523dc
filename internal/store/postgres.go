package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"

	"teamsync/internal/model"
)

type Postgres struct {
	db *sql.DB
	tm *pgtype.Map // scans text[] through database/sql
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db, tm: pgtype.NewMap()}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS teams (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS reflect_prompts (
    id          TEXT PRIMARY KEY,
    team_id     TEXT NOT NULL REFERENCES teams(id),
    template_id TEXT NOT NULL,
    question    TEXT NOT NULL,
    sort_order  DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS reflect_prompts_active_question
    ON reflect_prompts (template_id, question) WHERE is_active;
CREATE TABLE IF NOT EXISTS tasks (
    id         TEXT PRIMARY KEY,
    team_id    TEXT NOT NULL REFERENCES teams(id),
    user_id    TEXT NOT NULL,
    content    TEXT NOT NULL DEFAULT '',
    tags       TEXT[] NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_team_updated ON tasks (team_id, updated_at);
`

// Migrate creates the tables used by the service if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	var t model.Team
	err := p.db.QueryRowContext(ctx, `SELECT id, name FROM teams WHERE id=$1`, teamID).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Team{}, ErrNotFound
	}
	return t, err
}

const promptCols = `id, team_id, template_id, question, sort_order, is_active, created_at, updated_at`

func scanPrompt(row interface{ Scan(...any) error }) (model.ReflectPrompt, error) {
	var rp model.ReflectPrompt
	err := row.Scan(&rp.ID, &rp.TeamID, &rp.TemplateID, &rp.Question, &rp.SortOrder, &rp.IsActive, &rp.CreatedAt, &rp.UpdatedAt)
	return rp, err
}

func (p *Postgres) GetPrompt(ctx context.Context, promptID string) (model.ReflectPrompt, error) {
	rp, err := scanPrompt(p.db.QueryRowContext(ctx, `SELECT `+promptCols+` FROM reflect_prompts WHERE id=$1`, promptID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReflectPrompt{}, ErrNotFound
	}
	return rp, err
}

func (p *Postgres) ListPrompts(ctx context.Context, templateID string) ([]model.ReflectPrompt, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+promptCols+` FROM reflect_prompts WHERE template_id=$1 AND is_active ORDER BY sort_order`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ReflectPrompt{}
	for rows.Next() {
		rp, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

func (p *Postgres) CountActivePrompts(ctx context.Context, teamID, templateID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM reflect_prompts WHERE team_id=$1 AND template_id=$2 AND is_active`, teamID, templateID).Scan(&n)
	return n, err
}

func (p *Postgres) AddPrompt(ctx context.Context, rp model.ReflectPrompt) (model.ReflectPrompt, error) {
	if rp.ID == "" {
		rp.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rp.CreatedAt, rp.UpdatedAt, rp.IsActive = now, now, true
	err := p.db.QueryRowContext(ctx, `
        INSERT INTO reflect_prompts (id, team_id, template_id, question, sort_order, is_active, created_at, updated_at)
        SELECT $1, $2, $3, $4, COALESCE(MAX(sort_order), -1) + 1, TRUE, $5, $5
        FROM reflect_prompts WHERE template_id=$3 AND is_active
        RETURNING sort_order`,
		rp.ID, rp.TeamID, rp.TemplateID, rp.Question, now).Scan(&rp.SortOrder)
	if err != nil {
		return model.ReflectPrompt{}, mapPgError(err)
	}
	return rp, nil
}

func (p *Postgres) DeactivatePrompt(ctx context.Context, promptID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE reflect_prompts SET is_active=FALSE, updated_at=$2 WHERE id=$1`, promptID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskCols = `id, team_id, user_id, content, tags, updated_at`

func (p *Postgres) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	var t model.Task
	err := p.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=$1`, taskID).
		Scan(&t.ID, &t.TeamID, &t.UserID, &t.Content, p.tm.SQLScanner(&t.Tags), &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) UpdateTask(ctx context.Context, taskID string, patch model.TaskPatch, at time.Time) (model.Task, error) {
	tags := pqStringArray(patch.Tags)
	var t model.Task
	err := p.db.QueryRowContext(ctx, `
        UPDATE tasks SET content=COALESCE($2, content), tags=COALESCE($3, tags), updated_at=$4
        WHERE id=$1 RETURNING `+taskCols,
		taskID, patch.Content, tags, at).
		Scan(&t.ID, &t.TeamID, &t.UserID, &t.Content, p.tm.SQLScanner(&t.Tags), &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) CountArchivedTasks(ctx context.Context, teamID, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
        SELECT count(*) FROM tasks
        WHERE team_id=$1 AND 'archived' = ANY(tags)
          AND (NOT ('private' = ANY(tags)) OR user_id=$2)`, teamID, userID).Scan(&n)
	return n, err
}

// mapPgError translates constraint violations into store sentinels.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		}
	}
	return err
}

// pqStringArray returns nil for a nil slice so COALESCE keeps the stored
// value; an empty non-nil slice clears the column.
func pqStringArray(a []string) any {
	if a == nil {
		return nil
	}
	return a
}
