package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scorito-extract/internal/db"
	"github.com/sells-group/scorito-extract/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var playerUpsert = db.UpsertConfig{
	Table:        "players",
	Columns:      []string{"id", "name", "team", "points", "worth", "jersey", "position", "updated_at"},
	ConflictKeys: []string{"id"},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// A batch is one goroutine; a small pool is enough.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS players (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	team       TEXT NOT NULL DEFAULT '',
	points     TEXT NOT NULL DEFAULT '',
	worth      TEXT NOT NULL DEFAULT '',
	jersey     TEXT NOT NULL DEFAULT '',
	position   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dir        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_images (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	image       TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	score       INTEGER,
	players     INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	cost        DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_players_position ON players(lower(position));
CREATE INDEX IF NOT EXISTS idx_players_team ON players(lower(team));
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_images_run_id ON run_images(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func playerRow(p model.PlayerRecord, now time.Time) []any {
	return []any{p.ID, p.Name, p.Team, p.Points, p.Worth, p.Jersey, p.Position, now}
}

func (s *PostgresStore) UpsertPlayer(ctx context.Context, p model.PlayerRecord) error {
	if err := checkPlayer(p); err != nil {
		return err
	}
	query, err := db.UpsertSQL(playerUpsert)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, playerRow(p, time.Now().UTC())...)
	return eris.Wrapf(err, "postgres: upsert player %s", p.ID)
}

// UpsertPlayers loads all players through COPY into a temp table and a
// single INSERT ... ON CONFLICT.
func (s *PostgresStore) UpsertPlayers(ctx context.Context, players []model.PlayerRecord) (int, error) {
	if len(players) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(players))
	for _, p := range players {
		if err := checkPlayer(p); err != nil {
			return 0, err
		}
		rows = append(rows, playerRow(p, now))
	}
	n, err := db.BulkUpsert(ctx, s.pool, playerUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert players")
	}
	return int(n), nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context, filter PlayerFilter) ([]model.PlayerRecord, error) {
	query := `SELECT id, name, team, points, worth, jersey, position FROM players WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Position != "" {
		query += fmt.Sprintf(` AND lower(position) = lower($%d)`, argIdx)
		args = append(args, filter.Position)
		argIdx++
	}
	if filter.Team != "" {
		query += fmt.Sprintf(` AND lower(team) = lower($%d)`, argIdx)
		args = append(args, filter.Team)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list players")
	}
	defer rows.Close()

	var players []model.PlayerRecord
	for rows.Next() {
		var p model.PlayerRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Team, &p.Points, &p.Worth, &p.Jersey, &p.Position); err != nil {
			return nil, eris.Wrap(err, "postgres: scan player")
		}
		players = append(players, p)
	}
	return players, eris.Wrap(rows.Err(), "postgres: list players iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, dir string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, dir, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, dir, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Dir:       dir,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) RecordImage(ctx context.Context, runID string, img model.ImageResult) error {
	row := toImageRow(img)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_images (id, run_id, image, state, attempts, score, players, reason, cost, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New().String(), runID, row.image, row.state, row.attempts, row.score,
		row.players, row.reason, row.cost, row.duration, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record image %s for run %s", img.Image, runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT id, dir, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, dir, status, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var summaryJSON []byte

	if err := row.Scan(&r.ID, &r.Dir, &status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if summaryJSON != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}
