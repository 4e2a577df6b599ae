package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/models"
	"github.com/rryowa/authsession/internal/storage/memory"
)

const (
	testBaseURL   = "http://upstream.test"
	testNamespace = "auth-storage"
	testPassword  = "correct-horse"
)

var testSigningKey = []byte("test-signing-key")

func newTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// mintToken builds an HS512 token the way the upstream would.
func mintToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type recordedCall struct {
	Method string
	Path   string
	Auth   string
}

// fakeUpstream is an in-process stand-in for the API. It doubles as the Doer
// so calls are recorded in the exact order the client issued them.
type fakeUpstream struct {
	e *echo.Echo

	mu           sync.Mutex
	calls        []recordedCall
	validAccess  string
	validRefresh string
	nextAccess   string
	nextRefresh  string
	user         models.Identity

	refreshStatus int
	logoutStatus  int
	deleteStatus  int
	refreshGate   chan struct{}
	refreshCalls  atomic.Int32
	transportErr  error
}

func newFakeUpstream() *fakeUpstream {
	f := &fakeUpstream{
		e:            echo.New(),
		validAccess:  "T1",
		validRefresh: "R1",
		nextAccess:   "T2",
		nextRefresh:  "R2",
		user: models.Identity{
			ID:       7,
			Email:    "ada@example.com",
			Username: "ada",
			IsActive: true,
		},
	}
	f.routes()
	return f
}

func (f *fakeUpstream) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method: req.Method,
		Path:   req.URL.Path,
		Auth:   req.Header.Get(HeaderAuthorization),
	})
	transportErr := f.transportErr
	f.mu.Unlock()

	if transportErr != nil {
		return nil, transportErr
	}

	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec.Result(), nil
}

func (f *fakeUpstream) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeUpstream) CallsTo(path string) []recordedCall {
	var out []recordedCall
	for _, c := range f.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// expire makes the current access token stale without touching the refresh token.
func (f *fakeUpstream) expire() {
	f.mu.Lock()
	f.validAccess = "expired-" + f.validAccess
	f.mu.Unlock()
}

func (f *fakeUpstream) authorized(c echo.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.Request().Header.Get(HeaderAuthorization) == bearerPrefix+f.validAccess
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func (f *fakeUpstream) routes() {
	f.e.POST(PathLogin, func(c echo.Context) error {
		var req models.LoginRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return detail(c, http.StatusUnprocessableEntity, "invalid body")
		}
		if req.Password != testPassword {
			return detail(c, http.StatusUnauthorized, "Incorrect email or password")
		}
		return c.JSON(http.StatusOK, f.tokenWithUser())
	})

	f.e.POST(PathRegister, func(c echo.Context) error {
		var req models.RegisterRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return detail(c, http.StatusUnprocessableEntity, "invalid body")
		}
		if req.Email == f.user.Email {
			return detail(c, http.StatusBadRequest, "Email already registered")
		}
		f.mu.Lock()
		f.user.Email, f.user.Username = req.Email, req.Username
		f.mu.Unlock()
		return c.JSON(http.StatusCreated, f.tokenWithUser())
	})

	f.e.POST(PathRefresh, func(c echo.Context) error {
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if f.refreshStatus != 0 {
			return detail(c, f.refreshStatus, "Invalid refresh token")
		}

		var req models.TokenRefreshRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return detail(c, http.StatusUnprocessableEntity, "invalid body")
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if req.RefreshToken != f.validRefresh {
			return detail(c, http.StatusUnauthorized, "Invalid refresh token")
		}
		f.validAccess, f.validRefresh = f.nextAccess, f.nextRefresh
		return c.JSON(http.StatusOK, models.TokenPairResponse{
			AccessToken:  f.validAccess,
			RefreshToken: f.validRefresh,
			TokenType:    "bearer",
		})
	})

	f.e.POST(PathLogout, func(c echo.Context) error {
		if f.logoutStatus != 0 {
			return detail(c, f.logoutStatus, "logout failed")
		}
		return c.NoContent(http.StatusNoContent)
	})

	f.e.GET(PathMe, func(c echo.Context) error {
		if !f.authorized(c) {
			return detail(c, http.StatusUnauthorized, "Could not validate credentials")
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return c.JSON(http.StatusOK, f.user)
	})

	f.e.PUT(PathMe, func(c echo.Context) error {
		if !f.authorized(c) {
			return detail(c, http.StatusUnauthorized, "Could not validate credentials")
		}
		var req models.UpdateProfileRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return detail(c, http.StatusUnprocessableEntity, "invalid body")
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.Username != nil {
			f.user.Username = *req.Username
		}
		if req.FullName != nil {
			name := *req.FullName
			f.user.FullName = &name
		}
		return c.JSON(http.StatusOK, f.user)
	})

	f.e.DELETE(PathMe, func(c echo.Context) error {
		if !f.authorized(c) {
			return detail(c, http.StatusUnauthorized, "Could not validate credentials")
		}
		if f.deleteStatus != 0 {
			return detail(c, f.deleteStatus, "delete failed")
		}
		return c.NoContent(http.StatusNoContent)
	})

	f.e.GET("/api/v1/items/:id", func(c echo.Context) error {
		if !f.authorized(c) {
			return detail(c, http.StatusUnauthorized, "Could not validate credentials")
		}
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	f.e.GET("/api/v1/forbidden", func(c echo.Context) error {
		return detail(c, http.StatusForbidden, "Not allowed")
	})

	f.e.POST("/api/v1/validate", func(c echo.Context) error {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "email"}, "msg": "value is not a valid email address"}},
		})
	})
}

func (f *fakeUpstream) tokenWithUser() models.TokenWithUserResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.TokenWithUserResponse{
		TokenPairResponse: models.TokenPairResponse{
			AccessToken:  f.validAccess,
			RefreshToken: f.validRefresh,
			TokenType:    "bearer",
		},
		User: f.user,
	}
}

// recordingMirror tracks the mirror flag and every change made to it.
type recordingMirror struct {
	mu        sync.Mutex
	published bool
	changes   []bool
	err       error
}

func (m *recordingMirror) Publish(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = true
	m.changes = append(m.changes, true)
	return m.err
}

func (m *recordingMirror) Revoke(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = false
	m.changes = append(m.changes, false)
	return m.err
}

func (m *recordingMirror) Published() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) SessionAuthenticated(_ context.Context, identity models.Identity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, EventSessionAuthenticated+":"+identity.Username)
}

func (n *recordingNotifier) SessionCleared(_ context.Context, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, EventSessionCleared+":"+reason)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type failingRepo struct {
	loadData []byte
	loadErr  error
	saveErr  error
	deleted  atomic.Bool
}

func (r *failingRepo) LoadRecord(context.Context, string) ([]byte, error) {
	return r.loadData, r.loadErr
}

func (r *failingRepo) SaveRecord(context.Context, string, []byte) error {
	return r.saveErr
}

func (r *failingRepo) DeleteRecord(context.Context, string) error {
	r.deleted.Store(true)
	return nil
}

type harness struct {
	upstream    *fakeUpstream
	repo        *memory.SessionRepository
	mirror      *recordingMirror
	notifier    *recordingNotifier
	store       *SessionStore
	coordinator *RefreshCoordinator
	pipeline    *Pipeline
	auth        *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := newTestLogger()
	h := &harness{
		upstream: newFakeUpstream(),
		repo:     memory.NewSessionRepository(log),
		mirror:   &recordingMirror{},
		notifier: &recordingNotifier{},
	}
	h.store = NewSessionStore(h.repo, testNamespace, h.mirror, h.notifier, log)
	h.store.Hydrate(context.Background())
	h.coordinator = NewRefreshCoordinator(h.store, NewHTTPRefresher(testBaseURL, h.upstream), log)
	h.pipeline = NewPipeline(testBaseURL, h.upstream, h.store, h.coordinator, log)
	h.auth = NewAuthService(h.pipeline, h.store, log)
	return h
}

// signIn puts the harness into an authenticated state with the upstream's
// current tokens.
func (h *harness) signIn(t *testing.T) {
	t.Helper()
	if _, err := h.auth.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func assertCleared(t *testing.T, h *harness) {
	t.Helper()
	s := h.store.Read()
	if s.Authenticated || s.Identity != nil || s.Credentials != nil {
		t.Fatalf("expected empty session, got %+v", s)
	}
	if h.mirror.Published() {
		t.Fatalf("expected guard mirror to be revoked")
	}
}

func bearer(token string) string {
	return bearerPrefix + token
}

func isRefreshRejected(err error) bool {
	var rerr *RefreshError
	return errors.As(err, &rerr) && errors.Is(err, ErrRefreshRejected)
}

func pathOf(c recordedCall) string {
	return strings.TrimPrefix(c.Path, "/api/v1")
}
