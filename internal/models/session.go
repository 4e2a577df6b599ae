package models

import "time"

// Identity is the upstream user object as returned by /api/v1/users/me.
type Identity struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  *string   `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CredentialPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Session is the single authoritative auth state of the process.
// Authenticated is true iff both Identity and Credentials are set.
type Session struct {
	Identity      *Identity
	Credentials   *CredentialPair
	Authenticated bool
}

func NewSession(identity *Identity, credentials *CredentialPair) Session {
	return Session{
		Identity:      identity,
		Credentials:   credentials,
		Authenticated: identity != nil && credentials != nil,
	}
}

// Normalized recomputes Authenticated from the presence of identity and credentials.
func (s Session) Normalized() Session {
	return NewSession(s.Identity, s.Credentials)
}

// Clone returns a deep copy so callers cannot mutate store-owned pointers.
func (s Session) Clone() Session {
	out := Session{Authenticated: s.Authenticated}
	if s.Identity != nil {
		id := *s.Identity
		if s.Identity.FullName != nil {
			name := *s.Identity.FullName
			id.FullName = &name
		}
		out.Identity = &id
	}
	if s.Credentials != nil {
		pair := *s.Credentials
		out.Credentials = &pair
	}
	return out
}

func (s Session) AccessToken() string {
	if s.Credentials == nil {
		return ""
	}
	return s.Credentials.AccessToken
}

func (s Session) RefreshToken() string {
	if s.Credentials == nil {
		return ""
	}
	return s.Credentials.RefreshToken
}

// AuthStatus is the tri-state view of a session that may not be hydrated yet.
type AuthStatus int

const (
	AuthUnknown AuthStatus = iota
	Anonymous
	Authenticated
)

func (s AuthStatus) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
