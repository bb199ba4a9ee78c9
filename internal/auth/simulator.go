// Package auth simulates a hosted authentication service for offline and
// demo operation: one current session, persisted to key/value storage, with
// auth state changes broadcast to subscribers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/mockstore"
)

const DefaultSessionTTL = 24 * time.Hour

type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
)

// AuthEvent is delivered to OnAuthStateChange subscribers. Session is nil
// when nobody is signed in.
type AuthEvent struct {
	Type    EventType
	Session *domain.Session
}

type Simulator struct {
	store  kv.Store
	rules  Rules
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	current *domain.Session

	subject Subject[AuthEvent]
}

type Option func(*Simulator)

func WithRules(r Rules) Option {
	return func(s *Simulator) { s.rules = r }
}

func WithSessionTTL(d time.Duration) Option {
	return func(s *Simulator) { s.ttl = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

func NewSimulator(store kv.Store, secret string, opts ...Option) (*Simulator, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &Simulator{
		store:  store,
		rules:  DefaultRules(),
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignIn replaces the current session with one for email, persists it and
// notifies subscribers with SIGNED_IN.
func (s *Simulator) SignIn(ctx context.Context, email string) (domain.Session, error) {
	ident, err := s.rules.Resolve(email)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.now().UTC()
	sess := domain.Session{
		UserID:    ident.UserID,
		Email:     ident.Email,
		Alias:     ident.Alias,
		Role:      ident.Role,
		ExpiresAt: now.Add(s.ttl).Truncate(time.Second),
	}
	sess.AccessToken, err = issueToken(s.secret, sess, now)
	if err != nil {
		return domain.Session{}, err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return domain.Session{}, fmt.Errorf("encode session: %w", err)
	}
	if err := s.store.Set(ctx, mockstore.SessionKey, data); err != nil {
		return domain.Session{}, fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	s.logger.Info("signed in", "user_id", sess.UserID, "role", sess.Role)
	published := sess
	s.subject.Notify(AuthEvent{Type: EventSignedIn, Session: &published})
	return sess, nil
}

// SignOut clears the session in memory and storage and notifies SIGNED_OUT.
func (s *Simulator) SignOut(ctx context.Context) error {
	if err := s.store.Delete(ctx, mockstore.SessionKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("signed out", "user_id", prev.UserID)
	}
	s.subject.Notify(AuthEvent{Type: EventSignedOut})
	return nil
}

// Restore loads a persisted session, as after a restart, and notifies
// INITIAL_SESSION. Expired or unreadable sessions are discarded.
func (s *Simulator) Restore(ctx context.Context) (*domain.Session, error) {
	sess, err := s.readPersisted(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	var published *domain.Session
	if sess != nil {
		cp := *sess
		published = &cp
	}
	s.subject.Notify(AuthEvent{Type: EventInitialSession, Session: published})
	return sess, nil
}

func (s *Simulator) readPersisted(ctx context.Context) (*domain.Session, error) {
	raw, err := s.store.Get(ctx, mockstore.SessionKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.logger.Warn("discarding unreadable session", "error", err)
		return nil, nil
	}
	if !sess.ExpiresAt.After(s.now()) {
		s.logger.Info("discarding expired session", "user_id", sess.UserID)
		return nil, nil
	}
	return &sess, nil
}

// OnAuthStateChange registers fn for every subsequent auth event and returns
// the unsubscribe function.
func (s *Simulator) OnAuthStateChange(fn func(AuthEvent)) func() {
	return s.subject.Subscribe(fn)
}

// Current returns the signed-in session, if any.
func (s *Simulator) Current() (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Session{}, false
	}
	return *s.current, true
}

// Resolve prefers a session attached to ctx (a verified bearer token) and
// falls back to the simulator's current session.
func (s *Simulator) Resolve(ctx context.Context) (domain.Session, error) {
	sess, ok := SessionFrom(ctx)
	if !ok {
		sess, ok = s.Current()
	}
	if !ok {
		return domain.Session{}, domain.ErrNotAuthenticated
	}
	if !sess.ExpiresAt.IsZero() && !sess.ExpiresAt.After(s.now()) {
		return domain.Session{}, domain.ErrNotAuthenticated
	}
	return sess, nil
}

// Verify turns an access token issued by SignIn back into its session.
func (s *Simulator) Verify(token string) (domain.Session, error) {
	return parseToken(s.secret, token, s.now())
}

var _ domain.SessionResolver = (*Simulator)(nil)

type sessionKey struct{}

func WithSession(ctx context.Context, sess domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func SessionFrom(ctx context.Context) (domain.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(domain.Session)
	return sess, ok
}
