package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

const DefaultCallbackParam = "callbackUrl"

type DecisionKind int

const (
	Allow DecisionKind = iota
	RedirectLogin
	RedirectLanding
)

func (k DecisionKind) String() string {
	switch k {
	case RedirectLogin:
		return "redirect_login"
	case RedirectLanding:
		return "redirect_landing"
	default:
		return "allow"
	}
}

type Decision struct {
	Kind     DecisionKind
	Location string
}

// RouteRules is the one rule set both checkpoints evaluate. Only the source of
// hasCredential differs: the mirror at the edge, the session in the app.
type RouteRules struct {
	Protected     []string
	AuthOnly      []string
	LoginPath     string
	LandingPath   string
	CallbackParam string
}

func (r RouteRules) Evaluate(path string, hasCredential bool) Decision {
	switch {
	case !hasCredential && matchAny(r.Protected, path):
		return Decision{Kind: RedirectLogin, Location: r.LoginLocation(path)}
	case hasCredential && matchAny(r.AuthOnly, path):
		return Decision{Kind: RedirectLanding, Location: r.LandingPath}
	default:
		return Decision{Kind: Allow}
	}
}

func (r RouteRules) IsRouteAllowed(path string, hasCredential bool) bool {
	return r.Evaluate(path, hasCredential).Kind == Allow
}

func (r RouteRules) IsProtected(path string) bool {
	return matchAny(r.Protected, path)
}

// LoginLocation is the login URL carrying the originally requested path.
func (r RouteRules) LoginLocation(requested string) string {
	param := r.CallbackParam
	if param == "" {
		param = DefaultCallbackParam
	}
	q := url.Values{}
	q.Set(param, requested)
	return r.LoginPath + "?" + q.Encode()
}

// matchAny matches whole path segments: "/profile" covers "/profile" and
// "/profile/edit" but not "/profiles".
func matchAny(routes []string, path string) bool {
	for _, route := range routes {
		route = strings.TrimRight(route, "/")
		if route == "" {
			continue
		}
		if path == route || strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}

// Mirrors fans one mirror update out to several sinks.
type Mirrors []GuardMirror

func (m Mirrors) Publish(ctx context.Context) error {
	var errs []error
	for _, mirror := range m {
		if err := mirror.Publish(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Mirrors) Revoke(ctx context.Context) error {
	var errs []error
	for _, mirror := range m {
		if err := mirror.Revoke(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
