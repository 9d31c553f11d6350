package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PlayerStatus string

const (
	PlayerStatusActive PlayerStatus = "active"
	PlayerStatusBanned PlayerStatus = "banned"
)

// Player is a snapshot of a session participant. ID is the connection currently bound to
// the player and changes on every rejoin; Name is the durable identity within a session.
type Player struct {
	ID       string
	Name     string
	Score    decimal.Decimal
	Status   PlayerStatus
	Warnings int
}

func (p Player) Banned() bool { return p.Status == PlayerStatusBanned }

// Question is authored outside this service. Only CorrectAnswer is interpreted and it never
// leaves the server; the rest of the payload is passed through to clients untouched.
type Question struct {
	CorrectAnswer int
	// Raw is the authored payload without correctAnswer.
	Raw json.RawMessage
}

func (q *Question) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	answer, ok := fields["correctAnswer"]
	if !ok {
		return fmt.Errorf("question: missing correctAnswer")
	}

	if err := json.Unmarshal(answer, &q.CorrectAnswer); err != nil {
		return fmt.Errorf("question: invalid correctAnswer: %w", err)
	}

	delete(fields, "correctAnswer")
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	q.Raw = raw
	return nil
}

// MarshalJSON writes the client view of the question.
func (q Question) MarshalJSON() ([]byte, error) {
	if len(q.Raw) == 0 {
		return []byte("{}"), nil
	}

	return q.Raw, nil
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	SessionID     string
	HostIdentity  string
	QuizIdentity  string
	HostConn      string
	QuestionIndex int
	QuestionCount int
	Players       []Player
	BannedNames   []string
}

func (s SessionInfo) Started() bool { return s.QuestionIndex >= 0 }

func (s SessionInfo) Ended() bool {
	return s.QuestionCount > 0 && s.QuestionIndex >= s.QuestionCount
}

// Standing is one row of a public leaderboard.
type Standing struct {
	Rank  int
	Name  string
	Score decimal.Decimal
}

// Leaderboard represents a list of players and their scores within a quiz session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	Name  string
	Score float64
}

// Result is an archived final standing of a finished quiz.
type Result struct {
	SessionID    string
	QuizIdentity string
	PlayerName   string
	Score        decimal.Decimal
	Rank         int
	EndTime      time.Time
}
