package api

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type mirrorState int

const (
	mirrorUnknown mirrorState = iota
	mirrorPublished
	mirrorRevoked
)

const mirrorCookieValue = "1"

// CookieMirror carries the guard mirror to the browser as a cookie. The
// session store flips its state; MirrorCookie middleware stamps that state on
// every response so the edge checkpoint sees it on the next request.
type CookieMirror struct {
	mu    sync.RWMutex
	name  string
	ttl   time.Duration
	state mirrorState
}

func NewCookieMirror(name string, ttl time.Duration) *CookieMirror {
	return &CookieMirror{name: name, ttl: ttl}
}

func (m *CookieMirror) Publish(context.Context) error {
	m.mu.Lock()
	m.state = mirrorPublished
	m.mu.Unlock()
	return nil
}

func (m *CookieMirror) Revoke(context.Context) error {
	m.mu.Lock()
	m.state = mirrorRevoked
	m.mu.Unlock()
	return nil
}

func (m *CookieMirror) Name() string { return m.name }

// Cookie returns the Set-Cookie for the current state, or nil while the state
// has never been set.
func (m *CookieMirror) Cookie() *http.Cookie {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	switch state {
	case mirrorPublished:
		return &http.Cookie{
			Name:     m.name,
			Value:    mirrorCookieValue,
			Path:     "/",
			MaxAge:   int(m.ttl / time.Second),
			Expires:  time.Now().Add(m.ttl),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
	case mirrorRevoked:
		return &http.Cookie{
			Name:     m.name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
	default:
		return nil
	}
}
