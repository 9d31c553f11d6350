package session

import (
	"github.com/victornm/livequiz/internal/domain"
)

// Outbound event names.
const (
	EventSessionCreated    = "session_created"
	EventJoinedSuccess     = "joined_success"
	EventPlayerJoined      = "player_joined"
	EventNewQuestion       = "new_question"
	EventQuizEnded         = "quiz_ended"
	EventLeaderboardUpdate = "leaderboard_update"
	EventPlayerBanned      = "player_banned"
	EventYouAreBanned      = "you_are_banned"
	EventYouAreUnbanned    = "you_are_unbanned"
	EventSessionClosed     = "session_closed"
	EventError             = "error"
)

// Notification is a message the session wants delivered. ConnID addresses a single
// connection; an empty ConnID addresses every member of the session's room.
type Notification struct {
	ConnID string
	Event  string
	Data   any
}

func toConn(conn, event string, data any) Notification {
	return Notification{ConnID: conn, Event: event, Data: data}
}

func toRoom(event string, data any) Notification {
	return Notification{Event: event, Data: data}
}

// Dispatcher delivers notifications and keeps the room membership of a session. The session
// decides who is a member and who hears what; the dispatcher decides how. It is called with
// the session lock held and must not block or call back into the session.
type Dispatcher interface {
	Attach(sessionID, connID string)
	Detach(sessionID, connID string)
	Release(sessionID string)
	Dispatch(sessionID string, ns ...Notification)
}

type (
	SessionCreatedPayload struct {
		SessionID string `json:"sessionId"`
		Restored  bool   `json:"restored"`
	}

	JoinedSuccessPayload struct {
		SessionID  string `json:"sessionId"`
		PlayerName string `json:"playerName"`
		Rejoined   bool   `json:"rejoined"`
	}

	PlayersPayload struct {
		Players []PlayerView `json:"players"`
	}

	QuestionPayload struct {
		Question domain.Question `json:"question"`
		Index    int             `json:"index"`
		Total    int             `json:"total"`
	}

	QuizEndedPayload struct {
		FinalScores []PlayerView `json:"finalScores"`
	}

	PlayerBannedPayload struct {
		PlayerID   string       `json:"playerId"`
		PlayerName string       `json:"playerName"`
		Reason     string       `json:"reason"`
		Players    []PlayerView `json:"players"`
	}

	ReasonPayload struct {
		Reason string `json:"reason,omitempty"`
	}

	SessionClosedPayload struct {
		SessionID string `json:"sessionId"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
	}

	PlayerView struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Score    float64 `json:"score"`
		Status   string  `json:"status"`
		Warnings int     `json:"warnings"`
	}
)

func viewOf(p domain.Player) PlayerView {
	return PlayerView{
		ID:       p.ID,
		Name:     p.Name,
		Score:    p.Score.InexactFloat64(),
		Status:   string(p.Status),
		Warnings: p.Warnings,
	}
}

func viewsOf(ps []domain.Player) []PlayerView {
	vs := make([]PlayerView, 0, len(ps))
	for _, p := range ps {
		vs = append(vs, viewOf(p))
	}
	return vs
}
