package api

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
)

type Config struct {
	GRPC     *grpc.Server
	HTTP     gin.IRouter
	EventBus *event.Bus
	Registry *session.Registry
	// Presence reports whether a connection is live. Without it hosts are reported as
	// disconnected.
	Presence Presence
	Score    *score.Service
	// Leaderboard and Redis are optional, both need a Redis deployment.
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Presence interface {
	Connected(connID string) bool
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// API exposes read-only views of live sessions to operators and agents, and forwards
// selected domain events to Redis subscribers. Players and hosts use the websocket.
// Views never carry host identities or connection ids: either one is enough to take over
// a role in a session.
type API struct {
	reg      *session.Registry
	presence Presence
	ss       *score.Service
	ls       *leaderboard.Service
	mcp      *server.MCPServer

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		reg:      c.Registry,
		presence: c.Presence,
		ss:       c.Score,
		ls:       c.Leaderboard,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	a.mcp = a.newMCPServer()

	if c.GRPC != nil {
		c.GRPC.RegisterService(&sessionAdminServiceDesc, a)
	}

	if c.HTTP != nil {
		a.registerHTTP(c.HTTP)
	}

	// Register event handlers
	if a.redis != nil && c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})

		c.EventBus.Subscribe(domain.EventNameQuizEnded, func(ctx context.Context, e event.Event) error {
			return a.PublishQuizEnded(ctx, e.(domain.EventQuizEnded))
		})

		c.EventBus.Subscribe(domain.EventNameSessionClosed, func(ctx context.Context, e event.Event) error {
			return a.PublishSessionClosed(ctx, e.(domain.EventSessionClosed))
		})
	}

	return a
}

type (
	Session struct {
		SessionID     string   `json:"sessionId"`
		QuizIdentity  string   `json:"quizIdentity"`
		Status        string   `json:"status"`
		HostConnected bool     `json:"hostConnected"`
		QuestionIndex int      `json:"questionIndex"`
		QuestionCount int      `json:"questionCount"`
		Players       []Player `json:"players"`
		BannedNames   []string `json:"bannedNames"`
	}

	Player struct {
		Name     string `json:"name"`
		Score    string `json:"score"`
		Status   string `json:"status"`
		Warnings int    `json:"warnings"`
	}

	Result struct {
		SessionID    string `json:"sessionId"`
		QuizIdentity string `json:"quizIdentity"`
		PlayerName   string `json:"playerName"`
		Score        string `json:"score"`
		Rank         int    `json:"rank"`
		EndTime      string `json:"endTime"`
	}
)

const (
	statusWaiting    = "waiting"
	statusInProgress = "in_progress"
	statusEnded      = "ended"
)

func (a *API) toSession(info domain.SessionInfo) Session {
	s := Session{
		SessionID:     info.SessionID,
		QuizIdentity:  info.QuizIdentity,
		Status:        statusWaiting,
		HostConnected: a.presence != nil && info.HostConn != "" && a.presence.Connected(info.HostConn),
		QuestionIndex: info.QuestionIndex,
		QuestionCount: info.QuestionCount,
		Players:       make([]Player, 0, len(info.Players)),
		BannedNames:   info.BannedNames,
	}

	switch {
	case info.Ended():
		s.Status = statusEnded
	case info.Started():
		s.Status = statusInProgress
	}

	if s.BannedNames == nil {
		s.BannedNames = []string{}
	}

	for _, p := range info.Players {
		s.Players = append(s.Players, Player{
			Name:     p.Name,
			Score:    p.Score.String(),
			Status:   string(p.Status),
			Warnings: p.Warnings,
		})
	}

	return s
}

func toResults(rs []domain.Result) []Result {
	out := make([]Result, 0, len(rs))
	for _, r := range rs {
		out = append(out, Result{
			SessionID:    r.SessionID,
			QuizIdentity: r.QuizIdentity,
			PlayerName:   r.PlayerName,
			Score:        r.Score.String(),
			Rank:         r.Rank,
			EndTime:      r.EndTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

func (a *API) listSessions() []Session {
	infos := a.reg.List()

	ss := make([]Session, 0, len(infos))
	for _, info := range infos {
		ss = append(ss, a.toSession(info))
	}
	return ss
}

func (a *API) getSession(id string) (Session, error) {
	s, err := a.reg.Lookup(id)
	if err != nil {
		return Session{}, err
	}

	return a.toSession(s.Info()), nil
}

// toValue turns a view into the generic shape used by structpb and MCP text results.
func toValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
