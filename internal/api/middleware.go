package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/service"
)

// SignalFunc reports whether the guard mirror is present for a request.
type SignalFunc func(c echo.Context) bool

// CookieSignal reads the mirror from the incoming request's cookie.
func CookieSignal(name string) SignalFunc {
	return func(c echo.Context) bool {
		cookie, err := c.Cookie(name)
		return err == nil && cookie.Value != ""
	}
}

type MirrorReader interface {
	Present(ctx context.Context) (bool, error)
}

// RedisSignal reads the mirror from its redis replica. A redis error counts
// as absent, which at worst sends the user to the login page.
func RedisSignal(mirror MirrorReader, log *zap.SugaredLogger) SignalFunc {
	return func(c echo.Context) bool {
		ok, err := mirror.Present(c.Request().Context())
		if err != nil {
			log.Warnw("Failed to read guard mirror replica", "error", err)
			return false
		}
		return ok
	}
}

// EdgeSkipper keeps the edge checkpoint off API and asset routes.
func EdgeSkipper(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasPrefix(path, "/api/") || path == "/api" ||
		strings.HasPrefix(path, "/static/") || path == "/favicon.ico"
}

// EdgeGuard is the network-edge checkpoint. It runs before any handler and
// sees only the mirror signal, never the in-memory session.
func EdgeGuard(rules service.RouteRules, signal SignalFunc, skipper echomiddleware.Skipper, log *zap.SugaredLogger) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = echomiddleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			path := c.Request().URL.Path
			decision := rules.Evaluate(path, signal(c))
			if decision.Kind == service.Allow {
				return next(c)
			}

			log.Debugw("Edge checkpoint redirect", "path", path, "decision", decision.Kind.String(), "location", decision.Location)
			return c.Redirect(http.StatusFound, decision.Location)
		}
	}
}

// MirrorCookie stamps the cookie mirror's current state onto every response.
func MirrorCookie(mirror *CookieMirror) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Before(func() {
				if cookie := mirror.Cookie(); cookie != nil {
					c.SetCookie(cookie)
				}
			})
			return next(c)
		}
	}
}

func GetLoggerMiddlewareConfig(log *zap.SugaredLogger) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", c.Request().Method,
				"uri", v.URI,
				"status", v.Status,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				log.Errorw("Request", fields...)
			} else {
				log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
