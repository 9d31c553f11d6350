package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Inbound event names.
const (
	EventCreateSession = "create_session"
	EventJoinSession   = "join_session"
	EventStartQuiz     = "start_quiz"
	EventNextQuestion  = "next_question"
	EventSubmitAnswer  = "submit_answer"
	EventPlayerWarning = "player_warning"
	EventBanPlayer     = "ban_player"
	EventUnbanPlayer   = "unban_player"
	EventResetSession  = "reset_session"
)

var knownEvents = map[string]struct{}{
	EventCreateSession: {},
	EventJoinSession:   {},
	EventStartQuiz:     {},
	EventNextQuestion:  {},
	EventSubmitAnswer:  {},
	EventPlayerWarning: {},
	EventBanPlayer:     {},
	EventUnbanPlayer:   {},
	EventResetSession:  {},
}

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Envelope is the wire format of inbound frames.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type binding struct {
	sessionID string
	role      Role
}

type (
	createSessionRequest struct {
		HostIdentity string `json:"hostIdentity"`
		QuizIdentity string `json:"quizIdentity"`
	}

	joinSessionRequest struct {
		SessionID  string `json:"sessionId"`
		PlayerName string `json:"playerName"`
	}

	startQuizRequest struct {
		SessionID string            `json:"sessionId"`
		Questions []domain.Question `json:"questions"`
	}

	submitAnswerRequest struct {
		SessionID   string  `json:"sessionId"`
		AnswerIndex int     `json:"answerIndex"`
		TimeTaken   float64 `json:"timeTaken"`
	}

	moderationRequest struct {
		SessionID string `json:"sessionId"`
		PlayerID  string `json:"playerId"`
		Reason    string `json:"reason"`
	}
)

type Config struct {
	Hub      *Hub
	Registry *session.Registry
}

// Router resolves inbound events to their session and role and hands them to the session.
// Events of one connection are expected to be handled sequentially; different connections
// may call Handle concurrently.
type Router struct {
	hub *Hub
	reg *session.Registry

	mu       sync.RWMutex
	bindings map[string]binding
}

func New(c Config) *Router {
	r := &Router{
		hub:      c.Hub,
		reg:      c.Registry,
		bindings: make(map[string]binding),
	}

	// Sessions close on reset and when their host switches to another quiz.
	r.hub.OnRelease(r.unbindSession)

	return r
}

// Connect registers a new connection.
func (r *Router) Connect(ctx context.Context, conn Conn) {
	r.hub.Register(conn)
	slog.InfoContext(ctx, "router: connection opened", "conn", conn.ID())
}

// Disconnect forgets the connection. It never mutates session state; recovery happens when
// the host or player reconnects.
func (r *Router) Disconnect(ctx context.Context, conn Conn) {
	r.hub.Unregister(conn.ID())

	r.mu.Lock()
	b, ok := r.bindings[conn.ID()]
	delete(r.bindings, conn.ID())
	r.mu.Unlock()

	if ok {
		slog.InfoContext(ctx, "router: connection closed",
			"conn", conn.ID(),
			"session", b.sessionID,
			"role", b.role,
		)
		return
	}

	slog.InfoContext(ctx, "router: connection closed", "conn", conn.ID())
}

// Handle processes one inbound event.
func (r *Router) Handle(ctx context.Context, conn Conn, env Envelope) {
	if _, ok := knownEvents[env.Event]; !ok {
		telemetry.EventsReceived.WithLabelValues("unknown").Inc()
		slog.DebugContext(ctx, "router: unknown event", "conn", conn.ID(), "event", env.Event)
		return
	}
	telemetry.EventsReceived.WithLabelValues(env.Event).Inc()

	var err error
	switch env.Event {
	case EventCreateSession:
		err = r.createSession(ctx, conn, env.Data)
	case EventJoinSession:
		err = r.joinSession(ctx, conn, env.Data)
	case EventStartQuiz:
		err = r.startQuiz(ctx, conn, env.Data)
	case EventNextQuestion:
		err = r.withSession(conn, env.Data, func(s *session.Session, _ moderationRequest) error {
			return s.Advance(ctx, conn.ID())
		})
	case EventSubmitAnswer:
		err = r.submitAnswer(ctx, conn, env.Data)
	case EventPlayerWarning:
		err = r.withSession(conn, env.Data, func(s *session.Session, req moderationRequest) error {
			return s.Warn(ctx, conn.ID(), req.Reason)
		})
	case EventBanPlayer:
		err = r.withSession(conn, env.Data, func(s *session.Session, req moderationRequest) error {
			return s.Ban(ctx, conn.ID(), req.PlayerID, req.Reason)
		})
	case EventUnbanPlayer:
		err = r.withSession(conn, env.Data, func(s *session.Session, req moderationRequest) error {
			return s.Unban(ctx, conn.ID(), req.PlayerID)
		})
	case EventResetSession:
		err = r.resetSession(ctx, conn, env.Data)
	}

	if err != nil {
		r.fail(ctx, conn, env.Event, err)
	}
}

func (r *Router) createSession(ctx context.Context, conn Conn, data json.RawMessage) error {
	var req createSessionRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s, _, err := r.reg.CreateOrRestore(ctx, session.CreateRequest{
		HostIdentity: req.HostIdentity,
		QuizIdentity: req.QuizIdentity,
		HostConn:     conn.ID(),
	})
	if err != nil {
		return err
	}

	r.bind(conn.ID(), s.ID(), RoleHost)
	return nil
}

func (r *Router) joinSession(ctx context.Context, conn Conn, data json.RawMessage) error {
	var req joinSessionRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s, err := r.reg.Lookup(req.SessionID)
	if err != nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("Session not found"), errors.WithCause(err))
	}

	if _, err := s.Join(ctx, conn.ID(), req.PlayerName); err != nil {
		return err
	}

	r.bind(conn.ID(), s.ID(), RolePlayer)
	return nil
}

func (r *Router) startQuiz(ctx context.Context, conn Conn, data json.RawMessage) error {
	var req startQuizRequest
	decodeErr := decode(data, &req)

	s, ok := r.resolve(conn, req.SessionID)
	if !ok {
		return nil
	}

	// A malformed payload is only worth reporting to the host.
	if !s.IsHost(conn.ID()) {
		return errors.Forbidden("connection is not the host: session=%s", s.ID())
	}

	if decodeErr != nil {
		return decodeErr
	}

	return s.Start(ctx, conn.ID(), req.Questions)
}

func (r *Router) submitAnswer(ctx context.Context, conn Conn, data json.RawMessage) error {
	var req submitAnswerRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s, ok := r.resolve(conn, req.SessionID)
	if !ok {
		return nil
	}

	_, err := s.SubmitAnswer(ctx, conn.ID(), req.AnswerIndex, req.TimeTaken)
	return err
}

func (r *Router) resetSession(ctx context.Context, conn Conn, data json.RawMessage) error {
	var req moderationRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s, ok := r.resolve(conn, req.SessionID)
	if !ok {
		return nil
	}

	return r.reg.Reset(ctx, s.ID(), conn.ID())
}

// withSession decodes the common {sessionId, playerId, reason} payload and runs f against
// the resolved session. Unknown sessions are ignored.
func (r *Router) withSession(conn Conn, data json.RawMessage, f func(s *session.Session, req moderationRequest) error) error {
	var req moderationRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s, ok := r.resolve(conn, req.SessionID)
	if !ok {
		return nil
	}

	return f(s, req)
}

// resolve finds the session named by the payload, falling back to the session the
// connection is bound to.
func (r *Router) resolve(conn Conn, sessionID string) (*session.Session, bool) {
	if sessionID == "" {
		r.mu.RLock()
		sessionID = r.bindings[conn.ID()].sessionID
		r.mu.RUnlock()
	}

	if sessionID == "" {
		return nil, false
	}

	s, err := r.reg.Lookup(sessionID)
	if err != nil {
		slog.Debug("router: event for unknown session ignored", "conn", conn.ID(), "session", sessionID)
		return nil, false
	}

	return s, true
}

func (r *Router) bind(connID, sessionID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[connID] = binding{sessionID: sessionID, role: role}
}

func (r *Router) unbindSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID, b := range r.bindings {
		if b.sessionID == sessionID {
			delete(r.bindings, connID)
		}
	}
}

// Binding returns the session and role a connection is bound to.
func (r *Router) Binding(connID string) (sessionID string, role Role, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[connID]
	return b.sessionID, b.role, ok
}

// fail reports err to the connection when the caller is entitled to know about it. Authority
// violations and out-of-phase events are dropped silently.
func (r *Router) fail(ctx context.Context, conn Conn, event string, err error) {
	e := errors.Convert(err)

	switch e.Code {
	case errors.CodeNotFound, errors.CodeFailedPrecondition, errors.CodeInvalidArgument:
		slog.InfoContext(ctx, "router: event rejected", "conn", conn.ID(), "event", event, "error", err)
		r.hub.Send(conn.ID(), session.EventError, session.ErrorPayload{Message: e.Message})

	case errors.CodePermissionDenied, errors.CodeConflict:
		slog.DebugContext(ctx, "router: event ignored", "conn", conn.ID(), "event", event, "error", err)

	default:
		slog.ErrorContext(ctx, "router: handle event failed", "conn", conn.ID(), "event", event, "error", err)
		r.hub.Send(conn.ID(), session.EventError, session.ErrorPayload{Message: "internal error"})
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid payload"), errors.WithCause(err))
	}

	return nil
}
