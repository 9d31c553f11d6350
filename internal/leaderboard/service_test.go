package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
)

func TestService_UpdateScore(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
	require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "bob", 150)))
	// A stale total delivered late must not lower the score.
	require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 100)))

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{SessionID: "s1"})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		SessionID: "s1",
		Entries: []domain.LeaderboardEntry{
			{Name: "alice", Score: 200},
			{Name: "bob", Score: 150},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_Moderation(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		arrange func(t *testing.T, s *leaderboard.Service)
		assert  func(t *testing.T, l *domain.Leaderboard, err error)
	}{
		"banned player should be removed": {
			arrange: func(t *testing.T, s *leaderboard.Service) {
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "bob", 100)))
				require.NoError(t, s.RemovePlayer(ctx, domain.EventPlayerBanned{SessionID: "s1", PlayerName: "alice"}))
			},
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Equal(t, []domain.LeaderboardEntry{{Name: "bob", Score: 100}}, l.Entries)
			},
		},
		"score arriving after the ban should be ignored": {
			arrange: func(t *testing.T, s *leaderboard.Service) {
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "bob", 100)))
				require.NoError(t, s.RemovePlayer(ctx, domain.EventPlayerBanned{SessionID: "s1", PlayerName: "alice"}))
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
			},
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Equal(t, []domain.LeaderboardEntry{{Name: "bob", Score: 100}}, l.Entries)
			},
		},
		"unbanned player should come back with its score": {
			arrange: func(t *testing.T, s *leaderboard.Service) {
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
				require.NoError(t, s.RemovePlayer(ctx, domain.EventPlayerBanned{SessionID: "s1", PlayerName: "alice"}))
				require.NoError(t, s.RestorePlayer(ctx, domain.EventPlayerUnbanned{
					SessionID:  "s1",
					PlayerName: "alice",
					TotalScore: decimal.NewFromInt(200),
				}))
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 300)))
			},
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Equal(t, []domain.LeaderboardEntry{{Name: "alice", Score: 300}}, l.Entries)
			},
		},
		"closed session should be cleared": {
			arrange: func(t *testing.T, s *leaderboard.Service) {
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
				require.NoError(t, s.Clear(ctx, domain.EventSessionClosed{SessionID: "s1"}))
			},
			assert: func(t *testing.T, _ *domain.Leaderboard, err error) {
				require.ErrorIs(t, err, errors.ErrNotFound)
			},
		},
		"score arriving after the session closed should not recreate the board": {
			arrange: func(t *testing.T, s *leaderboard.Service) {
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
				require.NoError(t, s.Clear(ctx, domain.EventSessionClosed{SessionID: "s1"}))
				require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "bob", 300)))
			},
			assert: func(t *testing.T, _ *domain.Leaderboard, err error) {
				require.ErrorIs(t, err, errors.ErrNotFound)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _ := makeService(t)
			tc.arrange(t, s)

			l, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{SessionID: "s1"})
			tc.assert(t, l, err)
		})
	}
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventScoreUpdated
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after receiving score.updated": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{scoreUpdated("s1", "u1", 110)},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					SessionID: "s1",
					Entries:   []domain.LeaderboardEntry{{Name: "u1", Score: 110}},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish once per session for 2 different sessions": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						scoreUpdated("s1", "u1", 110),
						scoreUpdated("s2", "u2", 220),
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
			},
		},

		"should publish once for a burst within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						scoreUpdated("s1", "u1", 110),
						scoreUpdated("s1", "u2", 220),
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tc.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t, withEventBus(eb))

			for _, e := range in.receivedEvents {
				require.NoError(t, s.UpdateScore(context.Background(), e))
			}

			eb.Stop()

			tc.assert(t, out)
		})
	}
}

func TestService_KeysExpire(t *testing.T) {
	ctx := context.Background()
	s, rs := makeService(t, withTTL(time.Hour))

	require.NoError(t, s.UpdateScore(ctx, scoreUpdated("s1", "alice", 200)))
	require.NoError(t, s.RemovePlayer(ctx, domain.EventPlayerBanned{SessionID: "s1", PlayerName: "bob"}))

	require.Equal(t, time.Hour, rs.TTL("test:s1:leaderboard"))
	require.Equal(t, time.Hour, rs.TTL("test:s1:banned"))

	rs.FastForward(2 * time.Hour)

	_, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{SessionID: "s1"})
	require.ErrorIs(t, err, errors.ErrNotFound, "an abandoned board should not outlive its ttl")
}

func TestService_SubscribesToBus(t *testing.T) {
	eb := event.NewBus()
	s, _ := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), scoreUpdated("s1", "alice", 200))
	eb.Stop()

	l, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{{Name: "alice", Score: 200}}, l.Entries)
}

func scoreUpdated(session, name string, total int64) domain.EventScoreUpdated {
	return domain.EventScoreUpdated{
		SessionID:  session,
		PlayerName: name,
		TotalScore: decimal.NewFromInt(total),
		UpdateTime: time.Now(),
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withTTL(ttl time.Duration) options {
	return func(c *leaderboard.Config) {
		c.TTL = ttl
	}
}
