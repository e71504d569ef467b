package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/digkill/PostMiniApp/internal/models"
)

type SessionStore interface {
	Insert(ctx context.Context, s models.Session) (models.Session, error)
	Update(ctx context.Context, s models.Session) (models.Session, error)
}

// SessionService owns the single persisted session of one Mini App launch.
// Create is idempotent: once a session exists it is returned as is, and a
// failed insert may be retried without producing a duplicate.
type SessionService struct {
	store SessionStore
	log   *slog.Logger

	// createMu serializes Create so concurrent callers cannot both insert.
	createMu sync.Mutex

	mu      sync.RWMutex
	current *models.Session
}

func NewSessionService(store SessionStore, log *slog.Logger) *SessionService {
	return &SessionService{store: store, log: log.With("component", "session")}
}

func (s *SessionService) Create(ctx context.Context, user *models.User) (models.Session, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if cur, ok := s.Current(); ok {
		return cur, nil
	}

	created, err := s.store.Insert(ctx, models.Session{
		UserID:    user.ID,
		ChatID:    user.ChatID,
		Status:    models.SessionDraft,
		Artifacts: []string{},
	})
	if err != nil {
		s.log.Error("create session failed", "user_id", user.ID, "error", err)
		return models.Session{}, newError(CodeSessionCreateFailed, "insert rejected", err)
	}

	s.mu.Lock()
	s.current = &created
	s.mu.Unlock()

	s.log.Info("session created", "session_id", created.ID, "user_id", user.ID)
	return created, nil
}

// Update merges patch into the current session and persists it. The
// in-memory record is only replaced after the store accepted the write.
func (s *SessionService) Update(ctx context.Context, patch models.SessionPatch) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return models.Session{}, newError(CodeNoActiveSession, "update before create", nil)
	}
	if patch.Empty() {
		return *s.current, nil
	}

	next := patch.Apply(*s.current)
	saved, err := s.store.Update(ctx, next)
	if err != nil {
		s.log.Error("update session failed", "session_id", next.ID, "error", err)
		return *s.current, err
	}
	s.current = &saved
	return saved, nil
}

func (s *SessionService) Current() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Session{}, false
	}
	return *s.current, true
}
