package controller

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/authsession/internal/service"
)

const (
	ctxKeySession = "session"

	hydratingReason = "session is loading"
)

// awaitHydration reports false when the session could not be trusted in
// time. Before hydration the auth status is unknown, not anonymous, so the
// caller must neither render protected content nor redirect.
func (ctl *Controller) awaitHydration(c echo.Context) bool {
	if ctl.store.Hydrated() {
		return true
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), ctl.hydrationWait)
	defer cancel()
	return ctl.store.WaitHydrated(ctx) == nil
}

func (ctl *Controller) hydrating(c echo.Context) error {
	c.Response().Header().Set("Retry-After", "1")
	return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Reason: hydratingReason})
}

// syncMirror brings the mirror in line with the session the checkpoint just
// read. A failure does not block the page.
func (ctl *Controller) syncMirror(c echo.Context) {
	if err := ctl.store.SyncMirror(c.Request().Context()); err != nil {
		ctl.zapLogger.Debugw("Guard mirror resync failed", "path", c.Request().URL.Path, "error", err)
	}
}

// RequireSession is the application checkpoint for protected pages. It reads
// the in-memory session, never the mirror.
func (ctl *Controller) RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ctl.awaitHydration(c) {
			return ctl.hydrating(c)
		}

		session := ctl.store.Read()
		ctl.syncMirror(c)

		path := c.Request().URL.Path
		decision := ctl.rules.Evaluate(path, session.Authenticated)
		if !session.Authenticated && decision.Kind == service.Allow {
			decision = service.Decision{Kind: service.RedirectLogin, Location: ctl.rules.LoginLocation(path)}
		}
		if decision.Kind != service.Allow {
			ctl.zapLogger.Debugw("Application checkpoint redirect", "path", path, "decision", decision.Kind.String())
			return c.Redirect(http.StatusFound, decision.Location)
		}

		c.Set(ctxKeySession, session)
		return next(c)
	}
}

// RedirectAuthenticated is the application checkpoint for login and register.
// A session restored without its mirror is republished here and sent on to the
// landing page, which is how the two checkpoints reconverge.
func (ctl *Controller) RedirectAuthenticated(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ctl.awaitHydration(c) {
			return ctl.hydrating(c)
		}

		session := ctl.store.Read()
		ctl.syncMirror(c)

		decision := ctl.rules.Evaluate(c.Request().URL.Path, session.Authenticated)
		if decision.Kind != service.Allow {
			return c.Redirect(http.StatusFound, decision.Location)
		}
		return next(c)
	}
}
