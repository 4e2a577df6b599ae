package service

import (
	"context"
	"net/http"

	"github.com/rryowa/authsession/internal/models"
)

// GuardMirror is the externally readable "has a credential" flag. Only
// SessionStore writes to it, as a side effect of a session transition.
type GuardMirror interface {
	Publish(ctx context.Context) error
	Revoke(ctx context.Context) error
}

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher exchanges a refresh token for a new credential pair. It must not
// go through the Pipeline.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (models.CredentialPair, error)
}

// SessionNotifier is told about auth transitions after they are applied.
type SessionNotifier interface {
	SessionAuthenticated(ctx context.Context, identity models.Identity)
	SessionCleared(ctx context.Context, reason string)
}
