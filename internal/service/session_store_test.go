package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rryowa/authsession/internal/models"
	"github.com/rryowa/authsession/internal/storage"
	"github.com/rryowa/authsession/internal/storage/memory"
)

func testIdentity() *models.Identity {
	return &models.Identity{ID: 1, Email: "ada@example.com", Username: "ada", IsActive: true}
}

func testPair(access, refresh string) *models.CredentialPair {
	return &models.CredentialPair{AccessToken: access, RefreshToken: refresh}
}

func newTestStore(t *testing.T, repo storage.SessionRepository) (*SessionStore, *recordingMirror, *recordingNotifier) {
	t.Helper()
	mirror := &recordingMirror{}
	notifier := &recordingNotifier{}
	return NewSessionStore(repo, testNamespace, mirror, notifier, newTestLogger()), mirror, notifier
}

func TestSessionStoreWriteThrough(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository(newTestLogger())
	store, mirror, _ := newTestStore(t, repo)
	store.Hydrate(ctx)

	if err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := store.Read()
	if !got.Authenticated || got.AccessToken() != "T1" {
		t.Fatalf("unexpected in-memory session: %+v", got)
	}
	if !mirror.Published() {
		t.Fatalf("mirror not published after authenticated write")
	}

	data, err := repo.LoadRecord(ctx, testNamespace)
	if err != nil {
		t.Fatalf("load persisted record: %v", err)
	}
	persisted, err := models.DecodeSessionRecord(data)
	if err != nil {
		t.Fatalf("decode persisted record: %v", err)
	}
	if !reflect.DeepEqual(persisted, got) {
		t.Fatalf("persisted session %+v differs from memory %+v", persisted, got)
	}
}

func TestSessionStoreAuthenticatedIsDerived(t *testing.T) {
	ctx := context.Background()
	store, mirror, _ := newTestStore(t, memory.NewSessionRepository(newTestLogger()))
	store.Hydrate(ctx)

	// A caller cannot claim authentication without both halves.
	if err := store.Write(ctx, models.Session{Identity: testIdentity(), Authenticated: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if store.Read().Authenticated {
		t.Fatalf("session without credentials must not be authenticated")
	}
	if mirror.Published() {
		t.Fatalf("mirror published for an unauthenticated session")
	}
}

func TestSessionStoreReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, memory.NewSessionRepository(newTestLogger()))
	store.Hydrate(ctx)
	if err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	snapshot := store.Read()
	snapshot.Credentials.AccessToken = "tampered"
	snapshot.Identity.Username = "mallory"

	if got := store.Read(); got.AccessToken() != "T1" || got.Identity.Username != "ada" {
		t.Fatalf("store state leaked through Read: %+v", got)
	}
}

func TestSessionStoreSetCredentialsKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store, _, notifier := newTestStore(t, memory.NewSessionRepository(newTestLogger()))
	store.Hydrate(ctx)
	if err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.SetCredentials(ctx, models.CredentialPair{AccessToken: "T2", RefreshToken: "R2"}); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	got := store.Read()
	if got.AccessToken() != "T2" || got.RefreshToken() != "R2" {
		t.Fatalf("credentials not replaced: %+v", got.Credentials)
	}
	if got.Identity == nil || got.Identity.Username != "ada" {
		t.Fatalf("identity lost: %+v", got.Identity)
	}
	// Only the first write is a transition.
	if events := notifier.Events(); len(events) != 1 {
		t.Fatalf("expected one notification, got %v", events)
	}
}

func TestSessionStoreSetIdentity(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, memory.NewSessionRepository(newTestLogger()))
	store.Hydrate(ctx)
	if err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	updated := *testIdentity()
	updated.Username = "ada.l"
	if err := store.SetIdentity(ctx, updated); err != nil {
		t.Fatalf("set identity: %v", err)
	}

	got := store.Read()
	if got.Identity.Username != "ada.l" || got.AccessToken() != "T1" {
		t.Fatalf("unexpected session after identity update: %+v", got)
	}
}

func TestSessionStoreClearPersistsEmptyRecord(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository(newTestLogger())
	store, mirror, notifier := newTestStore(t, repo)
	store.Hydrate(ctx)
	if err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if got := store.Read(); got.Authenticated || got.Identity != nil || got.Credentials != nil {
		t.Fatalf("session not cleared: %+v", got)
	}
	if mirror.Published() {
		t.Fatalf("mirror still published after clear")
	}

	data, err := repo.LoadRecord(ctx, testNamespace)
	if err != nil {
		t.Fatalf("load persisted record: %v", err)
	}
	persisted, err := models.DecodeSessionRecord(data)
	if err != nil {
		t.Fatalf("decode persisted record: %v", err)
	}
	if persisted.Authenticated || persisted.Credentials != nil {
		t.Fatalf("persisted record still authenticated: %+v", persisted)
	}

	want := []string{
		EventSessionAuthenticated + ":ada",
		EventSessionCleared + ":" + ReasonSignedOut,
	}
	if got := notifier.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

func TestSessionStorePersistenceFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	saveErr := errors.New("disk full")
	store, mirror, _ := newTestStore(t, &failingRepo{loadErr: storage.ErrRecordNotFound, saveErr: saveErr})
	store.Hydrate(ctx)

	err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1")))
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !store.Read().Authenticated {
		t.Fatalf("memory must keep the new session when persistence fails")
	}
	if !mirror.Published() {
		t.Fatalf("mirror must follow memory when persistence fails")
	}
}

func TestSessionStoreMirrorFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store, mirror, _ := newTestStore(t, memory.NewSessionRepository(newTestLogger()))
	mirror.err = errors.New("mirror down")
	store.Hydrate(ctx)

	err := store.Write(ctx, models.NewSession(testIdentity(), testPair("T1", "R1")))
	if !errors.Is(err, mirror.err) {
		t.Fatalf("expected mirror error, got %v", err)
	}
	if !store.Read().Authenticated {
		t.Fatalf("memory must keep the new session when the mirror fails")
	}
}

func TestSessionStoreHydrateRestoresRecord(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository(newTestLogger())
	data, err := models.EncodeSessionRecord(models.NewSession(testIdentity(), testPair("T1", "R1")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := repo.SaveRecord(ctx, testNamespace, data); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	store, mirror, notifier := newTestStore(t, repo)
	if store.Status() != models.AuthUnknown {
		t.Fatalf("status before hydration = %v, want unknown", store.Status())
	}

	store.Hydrate(ctx)

	if store.Status() != models.Authenticated {
		t.Fatalf("status after hydration = %v, want authenticated", store.Status())
	}
	if got := store.Read(); got.AccessToken() != "T1" || got.Identity.Username != "ada" {
		t.Fatalf("unexpected restored session: %+v", got)
	}
	if len(mirror.changes) != 0 {
		t.Fatalf("hydration must not touch the mirror, got %v", mirror.changes)
	}
	if len(notifier.Events()) != 0 {
		t.Fatalf("hydration must not notify, got %v", notifier.Events())
	}

	if err := store.SyncMirror(ctx); err != nil {
		t.Fatalf("sync mirror: %v", err)
	}
	if !mirror.Published() {
		t.Fatalf("mirror not published after sync of restored session")
	}
}

func TestSessionStoreHydrateMissingRecord(t *testing.T) {
	store, _, _ := newTestStore(t, memory.NewSessionRepository(newTestLogger()))
	store.Hydrate(context.Background())

	if store.Status() != models.Anonymous {
		t.Fatalf("status = %v, want anonymous", store.Status())
	}
}

func TestSessionStoreHydrateMalformedRecord(t *testing.T) {
	for name, data := range map[string][]byte{
		"not json":      []byte("{broken"),
		"wrong version": []byte(`{"state":{"user":null,"accessToken":null,"refreshToken":null,"isAuthenticated":false},"version":3}`),
	} {
		t.Run(name, func(t *testing.T) {
			repo := &failingRepo{loadData: data}
			store, _, _ := newTestStore(t, repo)
			store.Hydrate(context.Background())

			if store.Status() != models.Anonymous {
				t.Fatalf("status = %v, want anonymous", store.Status())
			}
			if !repo.deleted.Load() {
				t.Fatalf("malformed record was not discarded")
			}
		})
	}
}

func TestSessionStoreHydrateLoadErrorStartsEmpty(t *testing.T) {
	store, _, _ := newTestStore(t, &failingRepo{loadErr: errors.New("permission denied")})
	store.Hydrate(context.Background())

	if store.Status() != models.Anonymous {
		t.Fatalf("status = %v, want anonymous", store.Status())
	}
}

func TestSessionStoreWriteBeforeHydrateWins(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository(newTestLogger())
	stale, err := models.EncodeSessionRecord(models.NewSession(testIdentity(), testPair("OLD", "ROLD")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := repo.SaveRecord(ctx, testNamespace, stale); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	store, _, _ := newTestStore(t, repo)
	if err := store.Write(ctx, models.NewSession(testIdentity(), testPair("NEW", "RNEW"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	store.Hydrate(ctx)

	if got := store.Read().AccessToken(); got != "NEW" {
		t.Fatalf("hydration overwrote a newer session: access token %q", got)
	}
}

func TestSessionStoreHydrateRunsOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository(newTestLogger())
	store, _, _ := newTestStore(t, repo)
	store.Hydrate(ctx)

	data, err := models.EncodeSessionRecord(models.NewSession(testIdentity(), testPair("T1", "R1")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := repo.SaveRecord(ctx, testNamespace, data); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	store.Hydrate(ctx)

	if store.Read().Authenticated {
		t.Fatalf("second Hydrate must be a no-op")
	}
}

func TestSessionStoreWaitHydrated(t *testing.T) {
	store, _, _ := newTestStore(t, memory.NewSessionRepository(newTestLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := store.WaitHydrated(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline before hydration, got %v", err)
	}

	go store.Hydrate(context.Background())
	if err := store.WaitHydrated(context.Background()); err != nil {
		t.Fatalf("wait hydrated: %v", err)
	}
	if !store.Hydrated() {
		t.Fatalf("Hydrated() = false after WaitHydrated returned")
	}
}
