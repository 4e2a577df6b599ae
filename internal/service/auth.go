package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/models"
)

// HTTPRefresher calls the refresh endpoint directly on the transport, so a
// 401 there can never re-enter the pipeline's refresh logic.
type HTTPRefresher struct {
	transport *transport
}

func NewHTTPRefresher(baseURL string, client Doer) *HTTPRefresher {
	return &HTTPRefresher{transport: newTransport(baseURL, client)}
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (models.CredentialPair, error) {
	body, err := encodeBody(models.TokenRefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return models.CredentialPair{}, err
	}

	resp, err := r.transport.roundTrip(ctx, http.MethodPost, PathRefresh, nil, nil, body)
	if err != nil {
		return models.CredentialPair{}, err
	}
	if !successful(resp.StatusCode) {
		return models.CredentialPair{}, &APIError{
			Method:     http.MethodPost,
			Path:       PathRefresh,
			StatusCode: resp.StatusCode,
			Detail:     apiDetail(resp.Body),
			Body:       resp.Body,
		}
	}

	var tokens models.TokenPairResponse
	if err := resp.Decode(&tokens); err != nil {
		return models.CredentialPair{}, err
	}
	if tokens.AccessToken == "" {
		return models.CredentialPair{}, errors.New("refresh response has no access token")
	}
	return tokens.Pair(), nil
}

// AuthService is the thin consumer of the pipeline for the auth and profile
// endpoints.
type AuthService struct {
	pipeline *Pipeline
	store    *SessionStore
	log      *zap.SugaredLogger
}

func NewAuthService(pipeline *Pipeline, store *SessionStore, log *zap.SugaredLogger) *AuthService {
	return &AuthService{pipeline: pipeline, store: store, log: log}
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (models.Identity, error) {
	return s.authenticate(ctx, PathLogin, req)
}

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (models.Identity, error) {
	return s.authenticate(ctx, PathRegister, req)
}

func (s *AuthService) authenticate(ctx context.Context, path string, payload any) (models.Identity, error) {
	resp, err := s.pipeline.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: payload})
	if err != nil {
		return models.Identity{}, err
	}

	var out models.TokenWithUserResponse
	if err := resp.Decode(&out); err != nil {
		return models.Identity{}, err
	}
	if out.AccessToken == "" {
		return models.Identity{}, fmt.Errorf("%s: response has no access token", path)
	}

	user := out.User
	pair := out.Pair()
	if err := s.store.Write(ctx, models.NewSession(&user, &pair)); err != nil {
		s.log.Warnw("Session stored in memory only", "error", err)
	}
	return user, nil
}

// Logout is best effort upstream; the local session is cleared either way and
// the upstream error, if any, is returned for reporting.
func (s *AuthService) Logout(ctx context.Context) error {
	_, err := s.pipeline.Do(ctx, Request{Method: http.MethodPost, Path: PathLogout})
	if err != nil && !errors.Is(err, ErrRefreshRejected) {
		s.log.Warnw("Upstream logout failed, clearing local session anyway", "error", err)
	}
	if clearErr := s.store.clear(ctx, ReasonSignedOut); clearErr != nil {
		s.log.Warnw("Session clear incomplete", "error", clearErr)
	}
	return err
}

func (s *AuthService) CurrentUser(ctx context.Context) (models.Identity, error) {
	resp, err := s.pipeline.Do(ctx, Request{Method: http.MethodGet, Path: PathMe})
	if err != nil {
		return models.Identity{}, err
	}
	var user models.Identity
	if err := resp.Decode(&user); err != nil {
		return models.Identity{}, err
	}
	return user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, req models.UpdateProfileRequest) (models.Identity, error) {
	resp, err := s.pipeline.Do(ctx, Request{Method: http.MethodPut, Path: PathMe, Body: req})
	if err != nil {
		return models.Identity{}, err
	}
	var user models.Identity
	if err := resp.Decode(&user); err != nil {
		return models.Identity{}, err
	}
	if err := s.store.SetIdentity(ctx, user); err != nil {
		s.log.Warnw("Identity stored in memory only", "error", err)
	}
	return user, nil
}

// DeleteAccount clears the local session whatever the upstream answer.
func (s *AuthService) DeleteAccount(ctx context.Context) error {
	_, err := s.pipeline.Do(ctx, Request{Method: http.MethodDelete, Path: PathMe})
	if err != nil {
		s.log.Warnw("Upstream account deletion failed, clearing local session anyway", "error", err)
	}
	if clearErr := s.store.clear(ctx, ReasonAccountDeleted); clearErr != nil {
		s.log.Warnw("Session clear incomplete", "error", clearErr)
	}
	return err
}
