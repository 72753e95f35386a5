package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/internal/resilience"
)

// Primary SQLite result codes for lock contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// sqliteCoder is satisfied by *sqlite.Error.
type sqliteCoder interface {
	Code() int
}

// locked reports whether err is lock contention that outlasted busy_timeout.
func locked(err error) bool {
	var ce sqliteCoder
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code() & 0xff {
	case sqliteBusy, sqliteLocked:
		return true
	}
	return false
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS players (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	team       TEXT NOT NULL DEFAULT '',
	points     TEXT NOT NULL DEFAULT '',
	worth      TEXT NOT NULL DEFAULT '',
	jersey     TEXT NOT NULL DEFAULT '',
	position   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	dir        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_images (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	image       TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	score       INTEGER,
	players     INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	cost        REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_players_position ON players(position);
CREATE INDEX IF NOT EXISTS idx_players_team ON players(team);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_images_run_id ON run_images(run_id);
`

const sqliteUpsertPlayer = `INSERT INTO players (id, name, team, points, worth, jersey, position, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		team = excluded.team,
		points = excluded.points,
		worth = excluded.worth,
		jersey = excluded.jersey,
		position = excluded.position,
		updated_at = excluded.updated_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertPlayer(ctx context.Context, p model.PlayerRecord) error {
	if err := checkPlayer(p); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertPlayer,
		p.ID, p.Name, p.Team, p.Points, p.Worth, p.Jersey, p.Position, time.Now().UTC(),
	)
	if locked(err) {
		return resilience.NewTransientError(eris.Wrapf(err, "sqlite: upsert player %s", p.ID), 0)
	}
	return eris.Wrapf(err, "sqlite: upsert player %s", p.ID)
}

// UpsertPlayers writes all players in one transaction. Nothing is written if
// any record is rejected.
func (s *SQLiteStore) UpsertPlayers(ctx context.Context, players []model.PlayerRecord) (int, error) {
	if len(players) == 0 {
		return 0, nil
	}
	for _, p := range players {
		if err := checkPlayer(p); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertPlayer)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, p := range players {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.Team, p.Points, p.Worth, p.Jersey, p.Position, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert player %s", p.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return len(players), nil
}

func (s *SQLiteStore) ListPlayers(ctx context.Context, filter PlayerFilter) ([]model.PlayerRecord, error) {
	query := `SELECT id, name, team, points, worth, jersey, position FROM players WHERE 1=1`
	var args []any

	if filter.Position != "" {
		query += ` AND lower(position) = lower(?)`
		args = append(args, filter.Position)
	}
	if filter.Team != "" {
		query += ` AND lower(team) = lower(?)`
		args = append(args, filter.Team)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list players")
	}
	defer rows.Close() //nolint:errcheck

	var players []model.PlayerRecord
	for rows.Next() {
		var p model.PlayerRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Team, &p.Points, &p.Worth, &p.Jersey, &p.Position); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan player")
		}
		players = append(players, p)
	}
	return players, eris.Wrap(rows.Err(), "sqlite: list players iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, dir string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dir, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, dir, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Dir:       dir,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) RecordImage(ctx context.Context, runID string, img model.ImageResult) error {
	row := toImageRow(img)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_images (id, run_id, image, state, attempts, score, players, reason, cost, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, row.image, row.state, row.attempts, row.score,
		row.players, row.reason, row.cost, row.duration, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record image %s for run %s", img.Image, runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dir, status, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, dir, status, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Dir, &r.Status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
