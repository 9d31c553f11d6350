package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventNameScoreUpdated       = "score.updated"
	EventNamePlayerBanned       = "player.banned"
	EventNamePlayerUnbanned     = "player.unbanned"
	EventNameQuizEnded          = "quiz.ended"
	EventNameSessionClosed      = "session.closed"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventScoreUpdated struct {
	SessionID  string
	PlayerName string
	TotalScore decimal.Decimal
	UpdateTime time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventPlayerBanned struct {
	SessionID  string
	PlayerName string
	Reason     string
}

func (EventPlayerBanned) Name() string { return EventNamePlayerBanned }

type EventPlayerUnbanned struct {
	SessionID  string
	PlayerName string
	TotalScore decimal.Decimal
}

func (EventPlayerUnbanned) Name() string { return EventNamePlayerUnbanned }

// EventQuizEnded carries the public final standings; banned players are already excluded.
type EventQuizEnded struct {
	SessionID    string
	QuizIdentity string
	Standings    []Standing
	EndTime      time.Time
}

func (EventQuizEnded) Name() string { return EventNameQuizEnded }

type EventSessionClosed struct {
	SessionID string
}

func (EventSessionClosed) Name() string { return EventNameSessionClosed }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
