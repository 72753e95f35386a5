package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scorito-extract/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// PlayerFilter specifies criteria for listing players. Matching is exact and
// case-insensitive.
type PlayerFilter struct {
	Position string `json:"position,omitempty"`
	Team     string `json:"team,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for extracted players and the run
// audit trail.
type Store interface {
	// Players
	UpsertPlayer(ctx context.Context, p model.PlayerRecord) error
	UpsertPlayers(ctx context.Context, players []model.PlayerRecord) (int, error)
	ListPlayers(ctx context.Context, filter PlayerFilter) ([]model.PlayerRecord, error)

	// Runs
	CreateRun(ctx context.Context, dir string) (*model.Run, error)
	RecordImage(ctx context.Context, runID string, img model.ImageResult) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver, "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// ErrNotFound is returned when a run lookup matches no row.
var ErrNotFound = eris.New("store: not found")

const defaultLimit = 100

func checkPlayer(p model.PlayerRecord) error {
	if strings.TrimSpace(p.ID) == "" {
		return eris.Errorf("store: player %q has no id", p.Name)
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

// imageRow is the persisted audit view of an ImageResult.
type imageRow struct {
	image    string
	state    string
	attempts int
	score    *int
	players  int
	reason   string
	cost     float64
	duration int64
}

func toImageRow(img model.ImageResult) imageRow {
	row := imageRow{
		image:    img.Image,
		state:    img.State.String(),
		attempts: img.Attempts,
		players:  len(img.Players),
		reason:   img.Reason,
		cost:     img.Usage.Cost,
		duration: img.Duration.Milliseconds(),
	}
	if img.Score != nil {
		s := img.Score.Score
		row.score = &s
	}
	return row
}
