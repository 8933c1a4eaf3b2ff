package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SessionStore maps session identifiers to identities and snapshots every
// mutation through its Snapshotter. The in-memory map stays authoritative when
// a snapshot write fails.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	version  uint64

	// writeMu serializes snapshot writes; written is the last version on disk.
	writeMu sync.Mutex
	written uint64

	snap Snapshotter
	log  *zerolog.Logger
}

// NewSessionStore creates a store persisting through snap. A nil snap keeps
// sessions in memory only.
func NewSessionStore(snap Snapshotter, logger *zerolog.Logger) *SessionStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		snap:     snap,
		log:      logger,
	}
}

// Load replaces the in-memory sessions with the persisted snapshot.
func (s *SessionStore) Load(ctx context.Context) error {
	if s.snap == nil {
		return nil
	}
	loaded, err := s.snap.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*Session, len(loaded))
	s.order = s.order[:0]
	for i := range loaded {
		sess := loaded[i]
		if _, dup := s.sessions[sess.ID]; !dup {
			s.order = append(s.order, sess.ID)
		}
		s.sessions[sess.ID] = &sess
	}
	return nil
}

// Resolve looks a session up without mutating anything.
func (s *SessionStore) Resolve(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Upsert creates or overwrites a session and persists a snapshot before returning.
func (s *SessionStore) Upsert(ctx context.Context, sessionID, userID, username string, isConnected bool) Session {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.order = append(s.order, sessionID)
	}
	sess := &Session{
		ID:          sessionID,
		UserID:      userID,
		Username:    username,
		IsConnected: isConnected,
		LastActive:  NowMillis(),
	}
	s.sessions[sessionID] = sess
	out := *sess
	version, snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, version, snapshot)
	return out
}

// Rename changes the username of a session. It fails for unknown sessions.
func (s *SessionStore) Rename(ctx context.Context, sessionID, newUsername string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Username = newUsername
	sess.LastActive = NowMillis()
	version, snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, version, snapshot)
	return true
}

// Delete removes a session explicitly.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	version, snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, version, snapshot)
	return true
}

// All returns every session in insertion order.
func (s *SessionStore) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.copyLocked()
}

// snapshotLocked bumps the version and copies the sessions. Caller holds mu.
func (s *SessionStore) snapshotLocked() (uint64, []Session) {
	s.version++
	return s.version, s.copyLocked()
}

func (s *SessionStore) copyLocked() []Session {
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.sessions[id])
	}
	return out
}

func (s *SessionStore) persist(ctx context.Context, version uint64, snapshot []Session) {
	if s.snap == nil {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// A newer snapshot already reached the backend.
	if version <= s.written {
		return
	}
	if err := s.snap.Save(ctx, snapshot); err != nil {
		s.log.Warn().Err(err).Int("sessions", len(snapshot)).Msg("failed to write session snapshot")
		return
	}
	s.written = version
}
