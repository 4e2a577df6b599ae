package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/controller"
	"github.com/rryowa/authsession/internal/service"
	"github.com/rryowa/authsession/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second
)

// GuardOptions configures the edge checkpoint.
type GuardOptions struct {
	Rules  service.RouteRules
	Signal SignalFunc
	Mirror *CookieMirror
}

type API struct {
	server          *echo.Echo
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	cleanupFuncs    []func()
}

func NewAPI(c *controller.Controller, l *zap.SugaredLogger, sc *util.ServerConfig, guard GuardOptions, cleanupFuncs []func()) (*API, error) {
	e := echo.New()
	e.HideBanner = true

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)
	e.Validator = NewValidator()

	swagger, err := controller.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI specification: %w", err)
	}
	swagger.Servers = nil

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(l)))
	e.Use(MirrorCookie(guard.Mirror))
	e.Use(EdgeGuard(guard.Rules, guard.Signal, EdgeSkipper, l))

	g := e.Group("/api")
	g.Use(middleware.OapiRequestValidator(swagger))
	controller.RegisterAPIHandlers(g, c)
	controller.RegisterPages(e, c)

	return &API{
		server:          e,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		cleanupFuncs:    cleanupFuncs,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (a *API) Handler() http.Handler {
	return a.server
}

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for _, cleanup := range a.cleanupFuncs {
			cleanup()
		}
		close(done)
	}()

	select {
	case <-done:
		a.log.Info("server shutdown completed")
	case <-time.After(a.gracefulTimeout):
		a.log.Errorf("cleanup did not finish within %s", a.gracefulTimeout)
	}
}
