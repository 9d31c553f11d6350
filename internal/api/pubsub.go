package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		SessionID string             `json:"sessionId"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Name  string `json:"name"`
		Score string `json:"score"`
	}

	Standing struct {
		Rank  int    `json:"rank"`
		Name  string `json:"name"`
		Score string `json:"score"`
	}

	QuizEnded struct {
		SessionID    string     `json:"sessionId"`
		QuizIdentity string     `json:"quizIdentity"`
		Standings    []Standing `json:"standings"`
	}

	PlayerResult struct {
		SessionID string   `json:"sessionId"`
		Standing  Standing `json:"standing"`
		Players   int      `json:"players"`
	}

	SessionClosed struct {
		SessionID string `json:"sessionId"`
	}
)

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Name:  entry.Name,
			Score: strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	return data
}

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, a.sessionChannel(e.Leaderboard.SessionID), e.Name(), toLeaderboard(e.Leaderboard))
}

// PublishQuizEnded sends the final standings to the session channel and each player its own
// result on the player channel.
func (a *API) PublishQuizEnded(ctx context.Context, e domain.EventQuizEnded) error {
	data := QuizEnded{
		SessionID:    e.SessionID,
		QuizIdentity: e.QuizIdentity,
		Standings:    make([]Standing, 0, len(e.Standings)),
	}

	for _, st := range e.Standings {
		data.Standings = append(data.Standings, Standing{
			Rank:  st.Rank,
			Name:  st.Name,
			Score: st.Score.String(),
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, a.sessionChannel(e.SessionID), e.Name(), data)
	})

	for _, st := range data.Standings {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.playerChannel(e.SessionID, st.Name), e.Name(), PlayerResult{
				SessionID: e.SessionID,
				Standing:  st,
				Players:   len(data.Standings),
			})
		})
	}

	return eg.Wait()
}

func (a *API) PublishSessionClosed(ctx context.Context, e domain.EventSessionClosed) error {
	return a.publishNotification(ctx, a.sessionChannel(e.SessionID), e.Name(), SessionClosed{SessionID: e.SessionID})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) sessionChannel(session string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, session)
}

func (a *API) playerChannel(session, player string) string {
	return fmt.Sprintf("%s:player:%s:%s", a.prefix, session, player)
}
