// Package models defines types shared across internal packages.
package models

import (
	"slices"
	"time"
)

// Level is the identity level a set of credentials carries.
type Level string

const (
	// LevelBasic is an anonymous, client-credentials identity.
	LevelBasic Level = "basic"

	// LevelUser is an identity bound to a user account.
	LevelUser Level = "user"
)

// Credentials is an immutable snapshot of an access token and the
// identity it was issued for. An empty Token means no fetch has ever
// succeeded for this identity.
type Credentials struct {
	ClientID        string    `json:"client_id" yaml:"client_id"`
	ClientUniqueKey string    `json:"client_unique_key,omitempty" yaml:"client_unique_key,omitempty"`
	RequestedScopes []string  `json:"requested_scopes,omitempty" yaml:"requested_scopes,omitempty"`
	GrantedScopes   []string  `json:"granted_scopes,omitempty" yaml:"granted_scopes,omitempty"`
	UserID          string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Expires         time.Time `json:"expires" yaml:"expires"`
	Token           string    `json:"token,omitempty" yaml:"token,omitempty"`
}

// Level returns LevelUser when a user ID is present, LevelBasic otherwise.
func (c Credentials) Level() Level {
	if c.UserID != "" {
		return LevelUser
	}

	return LevelBasic
}

// HasToken reports whether an access token was ever obtained.
func (c Credentials) HasToken() bool {
	return c.Token != ""
}

// IsExpired reports whether the credentials are expired at now, treating
// anything within leeway of the expiry as already expired.
func (c Credentials) IsExpired(now time.Time, leeway time.Duration) bool {
	if c.Expires.IsZero() {
		return true
	}

	return !now.Add(leeway).Before(c.Expires)
}

// Clone returns a deep copy so callers cannot mutate shared scope slices.
func (c Credentials) Clone() Credentials {
	c.RequestedScopes = slices.Clone(c.RequestedScopes)
	c.GrantedScopes = slices.Clone(c.GrantedScopes)

	return c
}

// Basic synthesizes anonymous credentials for a client without touching
// the network. The result has no token and expires immediately, so it
// is never mistaken for a fetched credential.
func Basic(clientID, clientUniqueKey string, scopes []string, now time.Time) Credentials {
	return Credentials{
		ClientID:        clientID,
		ClientUniqueKey: clientUniqueKey,
		RequestedScopes: slices.Clone(scopes),
		Expires:         now,
	}
}
