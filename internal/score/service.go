package score

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

// DB is the subset of *pgxpool.Pool used by the results archive.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

// Service archives the public final standings of every finished quiz. Session state itself
// is never persisted; the archive is written once, when a quiz ends.
type Service struct {
	eb *event.Bus
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	if s.db != nil && s.eb != nil {
		s.eb.Subscribe(domain.EventNameQuizEnded, func(ctx context.Context, e event.Event) error {
			return s.ArchiveResults(ctx, e.(domain.EventQuizEnded))
		})
	}

	return s
}

// ArchiveResults stores one row per ranked player in a single batch.
func (s *Service) ArchiveResults(ctx context.Context, e domain.EventQuizEnded) (err error) {
	if s.db == nil || len(e.Standings) == 0 {
		return nil
	}

	const stmt = `
INSERT INTO quiz_results (session_id, quiz_id, player_name, score, rank, end_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	b := &pgx.Batch{}
	for _, st := range e.Standings {
		b.Queue(stmt, e.SessionID, e.QuizIdentity, st.Name, st.Score, st.Rank, e.EndTime)
	}

	br := s.db.SendBatch(ctx, b)
	defer func() {
		if cerr := br.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("archive results: close batch: %w", cerr)
		}
	}()

	for range e.Standings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("archive results: session=%s: %w", e.SessionID, err)
		}
	}

	return nil
}

type ListResultsRequest struct {
	SessionID string
}

// ListResults returns archived standings of a session code, most recent quiz first.
func (s *Service) ListResults(ctx context.Context, req ListResultsRequest) ([]domain.Result, error) {
	if s.db == nil {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("results archive is disabled"))
	}

	const stmt = `
SELECT session_id, quiz_id, player_name, score, rank, end_time
FROM quiz_results
WHERE session_id = $1
ORDER BY end_time DESC, rank ASC;`

	rows, err := s.db.Query(ctx, stmt, req.SessionID)
	if err != nil {
		return nil, err
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Result, error) {
		var res domain.Result
		if err := r.Scan(&res.SessionID, &res.QuizIdentity, &res.PlayerName, &res.Score, &res.Rank, &res.EndTime); err != nil {
			return domain.Result{}, err
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, errors.NotFound("results not found: session=%s", req.SessionID)
	}

	return results, nil
}
