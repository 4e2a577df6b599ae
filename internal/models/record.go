package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

const SessionRecordVersion = 0

var ErrMalformedRecord = errors.New("malformed session record")

// SessionRecord is the persisted form of a Session, stored as one value
// under a namespaced key.
type SessionRecord struct {
	State   SessionRecordState `json:"state"`
	Version int                `json:"version"`
}

type SessionRecordState struct {
	User            *Identity `json:"user"`
	AccessToken     *string   `json:"accessToken"`
	RefreshToken    *string   `json:"refreshToken"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

func RecordFromSession(s Session) SessionRecord {
	rec := SessionRecord{
		State: SessionRecordState{
			User:            s.Identity,
			IsAuthenticated: s.Authenticated,
		},
		Version: SessionRecordVersion,
	}
	if s.Credentials != nil {
		access, refresh := s.Credentials.AccessToken, s.Credentials.RefreshToken
		rec.State.AccessToken = &access
		rec.State.RefreshToken = &refresh
	}
	return rec
}

// Session rebuilds the in-memory session. A stored isAuthenticated flag is
// ignored; authentication is derived from what is actually present.
func (r SessionRecord) Session() Session {
	var creds *CredentialPair
	if r.State.AccessToken != nil && *r.State.AccessToken != "" {
		creds = &CredentialPair{AccessToken: *r.State.AccessToken}
		if r.State.RefreshToken != nil {
			creds.RefreshToken = *r.State.RefreshToken
		}
	}
	return NewSession(r.State.User, creds)
}

func EncodeSessionRecord(s Session) ([]byte, error) {
	data, err := json.Marshal(RecordFromSession(s))
	if err != nil {
		return nil, fmt.Errorf("marshal session record: %w", err)
	}
	return data, nil
}

func DecodeSessionRecord(data []byte) (Session, error) {
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if rec.Version != SessionRecordVersion {
		return Session{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedRecord, rec.Version)
	}
	return rec.Session(), nil
}
