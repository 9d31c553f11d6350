package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultTTL      = 24 * time.Hour
)

// addScore raises the score of a player unless the session is closed or the name is in the
// banned set. Bus handlers run concurrently, so the checks and the write must be atomic.
// Returns -1 for a closed session.
var addScore = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
	return -1
end
if redis.call("SISMEMBER", KEYS[2], ARGV[2]) == 1 then
	return 0
end
local n = redis.call("ZADD", KEYS[1], "GT", ARGV[1], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return n
`)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// TTL bounds the lifetime of every key of a session. Zero means 24h.
	TTL time.Duration
	Now func() time.Time
}

// Service projects public standings of running sessions into Redis sorted sets, so they can
// be read without touching session state.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
		now:    c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateScore(ctx, e.(domain.EventScoreUpdated))
	})

	s.eb.Subscribe(domain.EventNamePlayerBanned, func(ctx context.Context, e event.Event) error {
		return s.RemovePlayer(ctx, e.(domain.EventPlayerBanned))
	})

	s.eb.Subscribe(domain.EventNamePlayerUnbanned, func(ctx context.Context, e event.Event) error {
		return s.RestorePlayer(ctx, e.(domain.EventPlayerUnbanned))
	})

	s.eb.Subscribe(domain.EventNameSessionClosed, func(ctx context.Context, e event.Event) error {
		return s.Clear(ctx, e.(domain.EventSessionClosed))
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the public standings of a session, best score first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Name:  z.Member.(string),
			Score: z.Score,
		})
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateScore records the new total of a player. Totals only grow, so a late delivery of an
// older total never overwrites a newer one. Scores of a closed session are dropped.
func (s *Service) UpdateScore(ctx context.Context, e domain.EventScoreUpdated) error {
	keys := []string{s.leaderboardKey(e.SessionID), s.bannedKey(e.SessionID), s.closedKey(e.SessionID)}
	n, err := addScore.Run(ctx, s.redis, keys, e.TotalScore.InexactFloat64(), e.PlayerName, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	if n < 0 {
		return nil
	}

	return s.schedulePublishLeaderboard(ctx, e.SessionID)
}

// RemovePlayer hides a banned player from the public standings.
func (s *Service) RemovePlayer(ctx context.Context, e domain.EventPlayerBanned) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.bannedKey(e.SessionID), e.PlayerName)
		p.Expire(ctx, s.bannedKey(e.SessionID), s.ttl)
		p.ZRem(ctx, s.leaderboardKey(e.SessionID), e.PlayerName)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, e.SessionID)
}

// RestorePlayer puts an unbanned player back with the score it kept while banned.
func (s *Service) RestorePlayer(ctx context.Context, e domain.EventPlayerUnbanned) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, s.bannedKey(e.SessionID), e.PlayerName)
		p.ZAddGT(ctx, s.leaderboardKey(e.SessionID), redis.Z{
			Score:  e.TotalScore.InexactFloat64(),
			Member: e.PlayerName,
		})
		p.Expire(ctx, s.leaderboardKey(e.SessionID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore player: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, e.SessionID)
}

// Clear drops every key of a closed session and leaves a marker so that scores still in
// flight do not recreate them.
func (s *Service) Clear(ctx context.Context, e domain.EventSessionClosed) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx,
			s.leaderboardKey(e.SessionID),
			s.bannedKey(e.SessionID),
			s.publishTimeKey(e.SessionID),
		)
		p.Set(ctx, s.closedKey(e.SessionID), 1, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}

	return nil
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per session and
// interval. Answers tend to arrive in bursts right after a question is shown.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sessionID string) error {
	ok, err := s.redis.SetNX(ctx, s.publishTimeKey(sessionID), s.now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, sessionID)
}

func (s *Service) publishLeaderboard(ctx context.Context, sessionID string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{SessionID: sessionID})
	if errors.Is(err, errors.ErrNotFound) {
		// Everyone on the board got banned.
		l, err = &domain.Leaderboard{SessionID: sessionID}, nil
	}
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) leaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) bannedKey(session string) string {
	return fmt.Sprintf("%s:%s:banned", s.prefix, session)
}

func (s *Service) publishTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}

func (s *Service) closedKey(session string) string {
	return fmt.Sprintf("%s:%s:closed", s.prefix, session)
}
