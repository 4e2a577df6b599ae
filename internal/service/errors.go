package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrExpiredCredential matches a 401 on an endpoint that carried a credential.
	ErrExpiredCredential = errors.New("credential expired")
	// ErrRefreshRejected matches every terminal refresh failure.
	ErrRefreshRejected = errors.New("refresh rejected")
	ErrNoRefreshToken  = errors.New("no refresh token")
	// ErrSessionChanged means the session was cleared or replaced while a
	// refresh was in flight, so its result no longer applies.
	ErrSessionChanged = errors.New("session changed during refresh")
)

// APIError is any non-2xx response from the upstream API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
	Body       []byte

	credentialed bool
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrExpiredCredential && e.IsExpiry()
}

// IsExpiry reports whether the response is the expiry signal.
func (e *APIError) IsExpiry() bool {
	return e.StatusCode == http.StatusUnauthorized && e.credentialed
}

// RefreshError is terminal: the session has already been cleared when it is
// returned.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh rejected: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshRejected }

// TransportError wraps network failures and timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// apiDetail pulls the FastAPI style "detail" field out of an error body.
// Validation errors carry a list there; its first message is used.
func apiDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
		return items[0].Msg
	}
	return ""
}
