package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/models"
	"github.com/rryowa/authsession/internal/storage"
)

const (
	ReasonSignedOut       = "signed_out"
	ReasonAccountDeleted  = "account_deleted"
	ReasonRefreshRejected = "refresh_rejected"
	ReasonCleared         = "cleared"
)

// SessionStore owns the process-wide session. Every mutator is write-through:
// memory, the persisted record and the guard mirror are updated under one
// lock, so no reader observes a session whose mirror disagrees with it.
type SessionStore struct {
	mu        sync.RWMutex
	session   models.Session
	dirty     bool
	repo      storage.SessionRepository
	namespace string
	mirror    GuardMirror
	notifier  SessionNotifier
	log       *zap.SugaredLogger

	hydrateOnce sync.Once
	hydratedCh  chan struct{}
	hydrated    atomic.Bool
}

func NewSessionStore(
	repo storage.SessionRepository,
	namespace string,
	mirror GuardMirror,
	notifier SessionNotifier,
	log *zap.SugaredLogger,
) *SessionStore {
	return &SessionStore{
		repo:       repo,
		namespace:  namespace,
		mirror:     mirror,
		notifier:   notifier,
		log:        log,
		hydratedCh: make(chan struct{}),
	}
}

func (s *SessionStore) Read() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Status is AuthUnknown until Hydrate has finished.
func (s *SessionStore) Status() models.AuthStatus {
	if !s.hydrated.Load() {
		return models.AuthUnknown
	}
	if s.Read().Authenticated {
		return models.Authenticated
	}
	return models.Anonymous
}

func (s *SessionStore) Hydrated() bool {
	return s.hydrated.Load()
}

func (s *SessionStore) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydratedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hydrate loads the persisted record once. A missing, unreadable or malformed
// record leaves the session empty; it never fails startup. The mirror is not
// touched here, the application checkpoint resyncs it.
func (s *SessionStore) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		defer func() {
			s.hydrated.Store(true)
			close(s.hydratedCh)
		}()

		restored := s.load(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dirty {
			s.log.Infow("Session changed before hydration, keeping in-memory state", "namespace", s.namespace)
			return
		}
		s.session = restored
		s.log.Infow("Session hydrated", "namespace", s.namespace, "authenticated", restored.Authenticated)
	})
}

func (s *SessionStore) load(ctx context.Context) models.Session {
	data, err := s.repo.LoadRecord(ctx, s.namespace)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return models.Session{}
	}
	if err != nil {
		s.log.Warnw("Failed to load session record, starting unauthenticated", "namespace", s.namespace, "error", err)
		return models.Session{}
	}

	restored, err := models.DecodeSessionRecord(data)
	if err != nil {
		s.log.Warnw("Discarding malformed session record", "namespace", s.namespace, "error", err)
		if err := s.repo.DeleteRecord(ctx, s.namespace); err != nil {
			s.log.Warnw("Failed to delete malformed session record", "namespace", s.namespace, "error", err)
		}
		return models.Session{}
	}
	return restored
}

// Write replaces the whole session.
func (s *SessionStore) Write(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	transition, err := s.applyLocked(ctx, session.Normalized().Clone())
	next := s.session.Clone()
	s.mu.Unlock()

	s.notify(ctx, transition, next, ReasonCleared)
	return err
}

// SetCredentials replaces only the credential pair.
func (s *SessionStore) SetCredentials(ctx context.Context, pair models.CredentialPair) error {
	s.mu.Lock()
	return s.setCredentialsLocked(ctx, pair)
}

// replaceCredentials swaps in a refreshed pair only while the session still
// holds expectedRefresh, the token the refresh was made with. Otherwise the
// session is left alone and ErrSessionChanged is returned.
func (s *SessionStore) replaceCredentials(ctx context.Context, expectedRefresh string, pair models.CredentialPair) error {
	s.mu.Lock()
	if s.session.RefreshToken() != expectedRefresh {
		s.mu.Unlock()
		return ErrSessionChanged
	}
	return s.setCredentialsLocked(ctx, pair)
}

// setCredentialsLocked must be called with mu held and releases it.
func (s *SessionStore) setCredentialsLocked(ctx context.Context, pair models.CredentialPair) error {
	next := s.session.Clone()
	next.Credentials = &pair
	transition, err := s.applyLocked(ctx, next.Normalized())
	snapshot := s.session.Clone()
	s.mu.Unlock()

	if info, infoErr := InspectToken(pair.AccessToken); infoErr == nil {
		s.log.Debugw("Credentials replaced", "subject", info.Subject, "access_expires_at", info.ExpiresAt)
	}

	s.notify(ctx, transition, snapshot, ReasonCleared)
	return err
}

// SetIdentity replaces only the identity; used after a profile edit.
func (s *SessionStore) SetIdentity(ctx context.Context, identity models.Identity) error {
	s.mu.Lock()
	next := s.session.Clone()
	next.Identity = &identity
	transition, err := s.applyLocked(ctx, next.Normalized().Clone())
	snapshot := s.session.Clone()
	s.mu.Unlock()

	s.notify(ctx, transition, snapshot, ReasonCleared)
	return err
}

func (s *SessionStore) Clear(ctx context.Context) error {
	return s.clear(ctx, ReasonSignedOut)
}

func (s *SessionStore) clear(ctx context.Context, reason string) error {
	s.mu.Lock()
	transition, err := s.applyLocked(ctx, models.Session{})
	s.mu.Unlock()

	s.log.Infow("Session cleared", "reason", reason)
	s.notify(ctx, transition, models.Session{}, reason)
	return err
}

// SyncMirror republishes the mirror from the current session. It covers a
// restored session whose mirror never reached this context.
func (s *SessionStore) SyncMirror(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncMirrorLocked(ctx)
}

// applyLocked must be called with mu held. Persistence and mirror failures do
// not roll back memory; they are returned joined.
func (s *SessionStore) applyLocked(ctx context.Context, next models.Session) (bool, error) {
	transition := s.session.Authenticated != next.Authenticated
	s.session = next
	s.dirty = true

	var errs []error
	data, err := models.EncodeSessionRecord(next)
	if err == nil {
		err = s.repo.SaveRecord(ctx, s.namespace, data)
	}
	if err != nil {
		s.log.Warnw("Failed to persist session record", "namespace", s.namespace, "error", err)
		errs = append(errs, err)
	}

	if err := s.syncMirrorLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return transition, errors.Join(errs...)
}

func (s *SessionStore) syncMirrorLocked(ctx context.Context) error {
	var err error
	if s.session.Authenticated {
		err = s.mirror.Publish(ctx)
	} else {
		err = s.mirror.Revoke(ctx)
	}
	if err != nil {
		s.log.Warnw("Failed to update guard mirror", "authenticated", s.session.Authenticated, "error", err)
	}
	return err
}

func (s *SessionStore) notify(ctx context.Context, transition bool, next models.Session, reason string) {
	if !transition || s.notifier == nil {
		return
	}
	if next.Authenticated {
		s.notifier.SessionAuthenticated(ctx, *next.Identity)
		return
	}
	s.notifier.SessionCleared(ctx, reason)
}
