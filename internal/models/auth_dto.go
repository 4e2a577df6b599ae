package models

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Username string  `json:"username" validate:"required,min=3,max=100"`
	Password string  `json:"password" validate:"required,min=8,max=100"`
	FullName *string `json:"full_name,omitempty" validate:"omitempty,max=100"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (r TokenPairResponse) Pair() CredentialPair {
	return CredentialPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

type TokenWithUserResponse struct {
	TokenPairResponse
	User Identity `json:"user"`
}

type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UpdateProfileRequest is a partial identity update; nil fields are left as is.
type UpdateProfileRequest struct {
	Email           *string `json:"email,omitempty" validate:"omitempty,email"`
	Username        *string `json:"username,omitempty" validate:"omitempty,min=3,max=100"`
	FullName        *string `json:"full_name,omitempty" validate:"omitempty,max=100"`
	CurrentPassword *string `json:"current_password,omitempty"`
	NewPassword     *string `json:"new_password,omitempty" validate:"omitempty,min=8,max=100"`
}

// SessionEvent is posted to the session webhook on auth transitions.
type SessionEvent struct {
	Event    string `json:"event"`
	Reason   string `json:"reason,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}
