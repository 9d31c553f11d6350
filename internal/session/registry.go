package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 32
)

type Config struct {
	Dispatcher Dispatcher
	EventBus   Publisher
	// NewCode overrides session code generation, mostly for tests.
	NewCode func() (string, error)
	Now     func() time.Time
}

// Registry owns every live session of the process and the host index used to restore a
// session when its host reconnects.
type Registry struct {
	d       Dispatcher
	eb      Publisher
	newCode func() (string, error)
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	byHost   map[string]string
}

func NewRegistry(c Config) *Registry {
	r := &Registry{
		d:        c.Dispatcher,
		eb:       c.EventBus,
		newCode:  c.NewCode,
		now:      c.Now,
		sessions: make(map[string]*Session),
		byHost:   make(map[string]string),
	}

	if r.newCode == nil {
		r.newCode = NewCode
	}

	if r.now == nil {
		r.now = time.Now
	}

	return r
}

// CreateRequest represents a host asking for a session.
type CreateRequest struct {
	// HostIdentity is the stable identity supplied by the host, not its connection id.
	HostIdentity string
	// QuizIdentity references the quiz content. Empty means "whatever my session runs".
	QuizIdentity string
	HostConn     string
}

// CreateOrRestore returns the session of the host, creating it when needed. A host owning a
// session for the same quiz gets it back with its new connection bound; a different quiz
// replaces the old session. There is never more than one session per host.
func (r *Registry) CreateOrRestore(ctx context.Context, req CreateRequest) (s *Session, restored bool, err error) {
	if req.HostIdentity == "" {
		return nil, false, errors.InvalidArgument("host identity is required")
	}

	if req.HostConn == "" {
		return nil, false, errors.InvalidArgument("host connection is required")
	}

	var out outbox
	defer out.flush(ctx, r.eb)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byHost[req.HostIdentity]; ok {
		old := r.sessions[id]
		if req.QuizIdentity == "" || req.QuizIdentity == old.quizIdentity {
			old.bindHost(req.HostConn, true)
			slog.InfoContext(ctx, "session: restored", "session", id, "host", req.HostIdentity)
			return old, true, nil
		}

		slog.InfoContext(ctx, "session: replacing session for a different quiz",
			"session", id,
			"host", req.HostIdentity,
			"old_quiz", old.quizIdentity,
			"new_quiz", req.QuizIdentity,
		)
		r.removeLocked(old, &out)
	}

	id, err := r.allocateLocked()
	if err != nil {
		return nil, false, errors.Internal(err)
	}

	s = newSession(id, req.HostIdentity, req.QuizIdentity, r.d, r.eb, r.now)
	r.sessions[id] = s
	r.byHost[req.HostIdentity] = id
	s.bindHost(req.HostConn, false)

	slog.InfoContext(ctx, "session: created", "session", id, "host", req.HostIdentity, "quiz", req.QuizIdentity)
	return s, false, nil
}

// Lookup finds a live session. Codes are matched case-insensitively.
func (r *Registry) Lookup(id string) (*Session, error) {
	id = NormalizeCode(id)

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.NotFound("session not found: %s", id)
	}

	return s, nil
}

// Destroy closes the session and removes it. Unknown ids are ignored.
func (r *Registry) Destroy(ctx context.Context, id string) {
	id = NormalizeCode(id)

	var out outbox
	defer out.flush(ctx, r.eb)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		r.removeLocked(s, &out)
	}
}

// Reset closes and removes the session on behalf of conn, which must be its host.
func (r *Registry) Reset(ctx context.Context, id, conn string) error {
	id = NormalizeCode(id)

	var out outbox
	defer out.flush(ctx, r.eb)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return errors.NotFound("session not found: %s", id)
	}

	if err := s.close(conn, true, &out); err != nil {
		return err
	}

	r.unindexLocked(s)
	slog.InfoContext(ctx, "session: reset by host", "session", id)
	return nil
}

// List returns snapshots of every live session ordered by id.
func (r *Registry) List() []domain.SessionInfo {
	r.mu.RLock()
	ss := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		ss = append(ss, s)
	}
	r.mu.RUnlock()

	infos := make([]domain.SessionInfo, 0, len(ss))
	for _, s := range ss {
		infos = append(infos, s.Info())
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func (r *Registry) removeLocked(s *Session, out *outbox) {
	_ = s.close("", false, out)
	r.unindexLocked(s)
}

func (r *Registry) unindexLocked(s *Session) {
	delete(r.sessions, s.id)
	if r.byHost[s.hostIdentity] == s.id {
		delete(r.byHost, s.hostIdentity)
	}
}

func (r *Registry) allocateLocked() (string, error) {
	for range maxCodeAttempts {
		code, err := r.newCode()
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}

		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}

	return "", fmt.Errorf("generate session code: no free code after %d attempts", maxCodeAttempts)
}

// NewCode returns a random 6 character code over A-Z and 0-9.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)

	base := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// NormalizeCode makes a typed session code comparable with generated ones.
func NormalizeCode(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
