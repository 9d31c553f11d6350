package session

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/score"
)

const notStarted = -1

// Publisher is satisfied by *event.Bus.
type Publisher interface {
	Publish(ctx context.Context, e event.Event)
}

type player struct {
	conn     string
	name     string
	score    decimal.Decimal
	status   domain.PlayerStatus
	warnings int
	// answered is the index of the last question this player answered.
	answered int
}

func (p *player) snapshot() domain.Player {
	return domain.Player{
		ID:       p.conn,
		Name:     p.name,
		Score:    p.score,
		Status:   p.status,
		Warnings: p.warnings,
	}
}

// Session is one running quiz. All state is guarded by mu; notifications are handed to the
// dispatcher before mu is released so every connection sees them in mutation order.
// Domain events wait until mu is released.
type Session struct {
	id           string
	hostIdentity string
	quizIdentity string

	d   Dispatcher
	eb  Publisher
	now func() time.Time

	mu        sync.Mutex
	closed    bool
	hostConn  string
	questions []domain.Question
	current   int
	players   []*player
	// byConn aliases the volatile connection id to the durable player entry.
	byConn map[string]*player
	banned map[string]struct{}
}

func newSession(id, hostIdentity, quizIdentity string, d Dispatcher, eb Publisher, now func() time.Time) *Session {
	return &Session{
		id:           id,
		hostIdentity: hostIdentity,
		quizIdentity: quizIdentity,
		d:            d,
		eb:           eb,
		now:          now,
		current:      notStarted,
		byConn:       make(map[string]*player),
		banned:       make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) HostIdentity() string { return s.hostIdentity }

func (s *Session) QuizIdentity() string { return s.quizIdentity }

// IsHost reports whether conn is the connection currently bound to the host role.
func (s *Session) IsHost(conn string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed && conn != "" && conn == s.hostConn
}

// Info returns a snapshot of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.banned))
	for n := range s.banned {
		names = append(names, n)
	}
	sort.Strings(names)

	return domain.SessionInfo{
		SessionID:     s.id,
		HostIdentity:  s.hostIdentity,
		QuizIdentity:  s.quizIdentity,
		HostConn:      s.hostConn,
		QuestionIndex: s.current,
		QuestionCount: len(s.questions),
		Players:       s.roster(),
		BannedNames:   names,
	}
}

// bindHost attaches conn as the host of a freshly created or restored session and replays
// the state the host needs to rebuild its view.
func (s *Session) bindHost(conn string, restored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hostConn != "" && s.hostConn != conn {
		s.d.Detach(s.id, s.hostConn)
	}
	s.hostConn = conn
	s.d.Attach(s.id, conn)

	ns := []Notification{
		toConn(conn, EventSessionCreated, SessionCreatedPayload{SessionID: s.id, Restored: restored}),
	}

	if restored {
		ns = append(ns, toConn(conn, EventPlayerJoined, PlayersPayload{Players: viewsOf(s.roster())}))
		ns = append(ns, s.progressFor(conn)...)
	}

	s.d.Dispatch(s.id, ns...)
}

// Join adds a player or, when name is already on the roster, rebinds that player to conn
// keeping its score. A banned name is rejected for the lifetime of the session.
func (s *Session) Join(ctx context.Context, conn, name string) (rejoined bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.InvalidArgument("player name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errors.NotFound("session not found: %s", s.id)
	}

	if conn == s.hostConn {
		return false, errors.InvalidArgument("the host cannot join as a player")
	}

	if _, ok := s.banned[name]; ok {
		return false, errors.Banned("you are banned from this session")
	}

	if p, ok := s.byConn[conn]; ok && p.name != name {
		return false, errors.InvalidArgument("connection already joined as %q", p.name)
	}

	p := s.findByName(name)
	if p != nil {
		rejoined = true
		if p.conn != conn {
			delete(s.byConn, p.conn)
			s.d.Detach(s.id, p.conn)
			p.conn = conn
		}
		p.status = domain.PlayerStatusActive
	} else {
		p = &player{
			conn:     conn,
			name:     name,
			status:   domain.PlayerStatusActive,
			answered: notStarted,
		}
		s.players = append(s.players, p)
	}
	s.byConn[conn] = p

	s.d.Attach(s.id, conn)

	ns := []Notification{
		toConn(conn, EventJoinedSuccess, JoinedSuccessPayload{SessionID: s.id, PlayerName: name, Rejoined: rejoined}),
		toRoom(EventPlayerJoined, PlayersPayload{Players: viewsOf(s.roster())}),
	}
	ns = append(ns, s.progressFor(conn)...)
	s.d.Dispatch(s.id, ns...)

	slog.InfoContext(ctx, "session: player joined",
		"session", s.id,
		"player", name,
		"rejoined", rejoined,
	)

	return rejoined, nil
}

// Start stores the questions and broadcasts the first one. Host only.
func (s *Session) Start(ctx context.Context, conn string, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeHost(conn); err != nil {
		return err
	}

	if s.current != notStarted {
		return errors.Conflict("quiz already started: session=%s", s.id)
	}

	if len(questions) == 0 {
		return errors.InvalidArgument("a quiz needs at least one question")
	}

	s.questions = append([]domain.Question(nil), questions...)
	s.current = 0
	s.d.Dispatch(s.id, toRoom(EventNewQuestion, s.questionPayload()))

	slog.InfoContext(ctx, "session: quiz started", "session", s.id, "questions", len(s.questions))
	return nil
}

// Advance moves to the next question, or ends the quiz after the last one. Host only.
func (s *Session) Advance(ctx context.Context, conn string) error {
	var out outbox
	defer out.flush(ctx, s.eb)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeHost(conn); err != nil {
		return err
	}

	if !s.inProgress() {
		return errors.Conflict("no question in progress: session=%s", s.id)
	}

	s.current++
	if s.current < len(s.questions) {
		s.d.Dispatch(s.id, toRoom(EventNewQuestion, s.questionPayload()))
		return nil
	}

	final := s.finalStandings()
	s.d.Dispatch(s.id, toRoom(EventQuizEnded, QuizEndedPayload{FinalScores: viewsOf(final)}))

	standings := make([]domain.Standing, 0, len(final))
	for i, p := range final {
		standings = append(standings, domain.Standing{Rank: i + 1, Name: p.Name, Score: p.Score})
	}
	out.add(domain.EventQuizEnded{
		SessionID:    s.id,
		QuizIdentity: s.quizIdentity,
		Standings:    standings,
		EndTime:      s.now(),
	})

	slog.InfoContext(ctx, "session: quiz ended", "session", s.id, "ranked", len(final))
	return nil
}

// SubmitAnswer scores an answer to the current question and returns the points awarded.
// Only the first answer of a player to a question counts.
func (s *Session) SubmitAnswer(ctx context.Context, conn string, answer int, timeTaken float64) (decimal.Decimal, error) {
	if math.IsNaN(timeTaken) {
		return decimal.Zero, errors.InvalidArgument("invalid timeTaken")
	}

	var out outbox
	defer out.flush(ctx, s.eb)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return decimal.Zero, errors.NotFound("session not found: %s", s.id)
	}

	p, ok := s.byConn[conn]
	if !ok || p.status == domain.PlayerStatusBanned {
		return decimal.Zero, errors.Forbidden("connection is not an active player: session=%s", s.id)
	}

	if !s.inProgress() {
		return decimal.Zero, errors.Conflict("no question in progress: session=%s", s.id)
	}

	if p.answered == s.current {
		return decimal.Zero, errors.Conflict("question %d already answered by %q", s.current, p.name)
	}
	p.answered = s.current

	awarded := decimal.Zero
	if answer == s.questions[s.current].CorrectAnswer {
		awarded = score.Points(timeTaken)
		p.score = p.score.Add(awarded)

		out.add(domain.EventScoreUpdated{
			SessionID:  s.id,
			PlayerName: p.name,
			TotalScore: p.score,
			UpdateTime: s.now(),
		})
	}

	s.d.Dispatch(s.id, toConn(s.hostConn, EventLeaderboardUpdate, PlayersPayload{Players: viewsOf(s.roster())}))
	return awarded, nil
}

// Warn records a warning against the player bound to conn. It never removes the player.
func (s *Session) Warn(ctx context.Context, conn, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NotFound("session not found: %s", s.id)
	}

	p, ok := s.byConn[conn]
	if !ok {
		return errors.Forbidden("connection is not a player: session=%s", s.id)
	}

	p.warnings++
	s.d.Dispatch(s.id, toConn(s.hostConn, EventLeaderboardUpdate, PlayersPayload{Players: viewsOf(s.roster())}))

	slog.InfoContext(ctx, "session: player warned",
		"session", s.id,
		"player", p.name,
		"warnings", p.warnings,
		"reason", reason,
	)
	return nil
}

// Ban bans a player by name. With an empty target the player bound to actor bans itself,
// which is how clients report their own violations; banning someone else is host only.
func (s *Session) Ban(ctx context.Context, actor, target, reason string) error {
	var out outbox
	defer out.flush(ctx, s.eb)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NotFound("session not found: %s", s.id)
	}

	if target == "" {
		target = actor
	}

	if target != actor {
		if err := s.authorizeHost(actor); err != nil {
			return err
		}
	}

	p, ok := s.byConn[target]
	if !ok {
		if target == actor {
			return errors.Forbidden("connection is not a player: session=%s", s.id)
		}
		return errors.NotFound("player not found: %s", target)
	}

	if p.status == domain.PlayerStatusBanned {
		return errors.Conflict("player %q already banned", p.name)
	}

	p.status = domain.PlayerStatusBanned
	s.banned[p.name] = struct{}{}

	s.d.Dispatch(s.id,
		toConn(s.hostConn, EventPlayerBanned, PlayerBannedPayload{
			PlayerID:   p.conn,
			PlayerName: p.name,
			Reason:     reason,
			Players:    viewsOf(s.roster()),
		}),
		toConn(p.conn, EventYouAreBanned, ReasonPayload{Reason: reason}),
	)

	out.add(domain.EventPlayerBanned{SessionID: s.id, PlayerName: p.name, Reason: reason})

	slog.InfoContext(ctx, "session: player banned", "session", s.id, "player", p.name, "reason", reason)
	return nil
}

// Unban lifts the ban of the player currently bound to target and clears its warnings.
// Host only.
func (s *Session) Unban(ctx context.Context, actor, target string) error {
	var out outbox
	defer out.flush(ctx, s.eb)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeHost(actor); err != nil {
		return err
	}

	p, ok := s.byConn[target]
	if !ok {
		return errors.NotFound("player not found: %s", target)
	}

	p.status = domain.PlayerStatusActive
	p.warnings = 0
	delete(s.banned, p.name)

	s.d.Dispatch(s.id,
		toConn(s.hostConn, EventLeaderboardUpdate, PlayersPayload{Players: viewsOf(s.roster())}),
		toConn(p.conn, EventYouAreUnbanned, struct{}{}),
	)

	out.add(domain.EventPlayerUnbanned{SessionID: s.id, PlayerName: p.name, TotalScore: p.score})

	slog.InfoContext(ctx, "session: player unbanned", "session", s.id, "player", p.name)
	return nil
}

// close broadcasts session_closed, releases the room and marks the session dead. Every
// later operation on it fails with NotFound. Callers must hold the registry lock and flush
// out once they release it.
func (s *Session) close(actor string, checkHost bool, out *outbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if checkHost {
		if err := s.authorizeHost(actor); err != nil {
			return err
		}
	} else if s.closed {
		return nil
	}

	s.d.Dispatch(s.id, toRoom(EventSessionClosed, SessionClosedPayload{SessionID: s.id}))
	s.d.Release(s.id)
	s.closed = true

	out.add(domain.EventSessionClosed{SessionID: s.id})
	return nil
}

func (s *Session) authorizeHost(conn string) error {
	if s.closed {
		return errors.NotFound("session not found: %s", s.id)
	}

	if conn == "" || conn != s.hostConn {
		return errors.Forbidden("connection is not the host: session=%s", s.id)
	}

	return nil
}

func (s *Session) inProgress() bool {
	return s.current >= 0 && s.current < len(s.questions)
}

func (s *Session) ended() bool {
	return len(s.questions) > 0 && s.current >= len(s.questions)
}

// progressFor returns what a connection arriving mid-quiz needs to catch up.
func (s *Session) progressFor(conn string) []Notification {
	switch {
	case s.inProgress():
		return []Notification{toConn(conn, EventNewQuestion, s.questionPayload())}
	case s.ended():
		return []Notification{toConn(conn, EventQuizEnded, QuizEndedPayload{FinalScores: viewsOf(s.finalStandings())})}
	default:
		return nil
	}
}

func (s *Session) questionPayload() QuestionPayload {
	return QuestionPayload{
		Question: s.questions[s.current],
		Index:    s.current,
		Total:    len(s.questions),
	}
}

func (s *Session) findByName(name string) *player {
	for _, p := range s.players {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (s *Session) roster() []domain.Player {
	ps := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		ps = append(ps, p.snapshot())
	}
	return ps
}

// finalStandings excludes banned players and orders by score, join order breaking ties.
func (s *Session) finalStandings() []domain.Player {
	ps := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		if p.status == domain.PlayerStatusBanned {
			continue
		}
		ps = append(ps, p.snapshot())
	}

	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Score.GreaterThan(ps[j].Score)
	})
	return ps
}

// outbox holds domain events raised under a lock. The bus may block while a subscriber
// is saturated, so events are only published once every lock is released.
type outbox []event.Event

func (o *outbox) add(e event.Event) {
	*o = append(*o, e)
}

func (o *outbox) flush(ctx context.Context, eb Publisher) {
	if eb == nil {
		return
	}

	for _, e := range *o {
		eb.Publish(ctx, e)
	}
	*o = nil
}
