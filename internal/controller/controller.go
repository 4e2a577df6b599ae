package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/models"
	"github.com/rryowa/authsession/internal/service"
	"github.com/rryowa/authsession/internal/util"
)

type ErrorResponse struct {
	Reason string `json:"reason"`
}

type PageResponse struct {
	Page string           `json:"page"`
	User *models.Identity `json:"user,omitempty"`
}

type SessionResponse struct {
	Status          string           `json:"status"`
	User            *models.Identity `json:"user,omitempty"`
	AccessExpiresAt *time.Time       `json:"access_expires_at,omitempty"`
}

type AuthResponse struct {
	User     models.Identity `json:"user"`
	Redirect string          `json:"redirect"`
}

type Controller struct {
	zapLogger     *zap.SugaredLogger
	authService   *service.AuthService
	store         *service.SessionStore
	rules         service.RouteRules
	hydrationWait time.Duration
}

func NewController(
	logger *zap.SugaredLogger,
	authService *service.AuthService,
	store *service.SessionStore,
	rules service.RouteRules,
	hydrationWait time.Duration,
) *Controller {
	return &Controller{
		zapLogger:     logger,
		authService:   authService,
		store:         store,
		rules:         rules,
		hydrationWait: hydrationWait,
	}
}

// (GET /api/ping).
func (ctl *Controller) CheckServer(c echo.Context) error {
	return c.JSON(http.StatusOK, "ok")
}

// (GET /).
func (ctl *Controller) Home(c echo.Context) error {
	return c.JSON(http.StatusOK, PageResponse{Page: "home"})
}

// (GET /login), (GET /register).
func (ctl *Controller) AuthPage(page string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, PageResponse{Page: page})
	}
}

// (GET /dashboard), (GET /profile). Only reachable through RequireSession.
func (ctl *Controller) ProtectedPage(page string) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, ok := c.Get(ctxKeySession).(models.Session)
		if !ok || !session.Authenticated {
			return util.NewResponseError(http.StatusUnauthorized, "not signed in")
		}
		return c.JSON(http.StatusOK, PageResponse{Page: page, User: session.Identity})
	}
}

// (GET /api/session).
func (ctl *Controller) GetSession(c echo.Context) error {
	session := ctl.store.Read()
	resp := SessionResponse{Status: ctl.store.Status().String(), User: session.Identity}
	if info, err := service.InspectToken(session.AccessToken()); err == nil && !info.ExpiresAt.IsZero() {
		resp.AccessExpiresAt = &info.ExpiresAt
	}
	return c.JSON(http.StatusOK, resp)
}

// (POST /api/session/login).
func (ctl *Controller) Login(c echo.Context) error {
	var req models.LoginRequest
	if err := ctl.bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := ctl.authService.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	ctl.zapLogger.Infow("Signed in", "user_id", user.ID)
	return c.JSON(http.StatusOK, AuthResponse{User: user, Redirect: ctl.redirectTarget(c)})
}

// (POST /api/session/register).
func (ctl *Controller) Register(c echo.Context) error {
	var req models.RegisterRequest
	if err := ctl.bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := ctl.authService.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	ctl.zapLogger.Infow("Registered", "user_id", user.ID)
	return c.JSON(http.StatusCreated, AuthResponse{User: user, Redirect: ctl.rules.LandingPath})
}

// (POST /api/session/logout). Upstream failures never keep the user signed in.
func (ctl *Controller) Logout(c echo.Context) error {
	if err := ctl.authService.Logout(c.Request().Context()); err != nil {
		ctl.zapLogger.Warnw("Logout completed locally only", "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// (GET /api/me).
func (ctl *Controller) GetMe(c echo.Context) error {
	user, err := ctl.authService.CurrentUser(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// (PUT /api/me).
func (ctl *Controller) UpdateMe(c echo.Context) error {
	var req models.UpdateProfileRequest
	if err := ctl.bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.NewPassword != nil && req.CurrentPassword == nil {
		return util.NewResponseError(http.StatusBadRequest, "current_password is required to set new_password")
	}

	user, err := ctl.authService.UpdateProfile(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// (DELETE /api/me).
func (ctl *Controller) DeleteMe(c echo.Context) error {
	if err := ctl.authService.DeleteAccount(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctl *Controller) bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return util.NewResponseError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}

// redirectTarget honours the callback the edge checkpoint attached to the
// login URL, but only for local paths.
func (ctl *Controller) redirectTarget(c echo.Context) string {
	param := ctl.rules.CallbackParam
	if param == "" {
		param = service.DefaultCallbackParam
	}
	target := c.QueryParam(param)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return ctl.rules.LandingPath
	}
	return target
}
