package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// TokensSchemaVersion is written into every persisted Tokens payload.
const TokensSchemaVersion = 2

// Tokens is the persisted aggregate: credentials plus the refresh token
// used to renew them. A refresh grant is only possible when
// RefreshToken is set.
type Tokens struct {
	Version      int         `json:"version"`
	Credentials  Credentials `json:"credentials"`
	RefreshToken string      `json:"refresh_token,omitempty"`

	// NeedsUpgrade marks tokens migrated from the legacy schema. They
	// must be exchanged through the upgrade grant before further use.
	NeedsUpgrade bool `json:"needs_upgrade,omitempty"`
}

// CanRefresh reports whether a refresh grant is possible.
func (t Tokens) CanRefresh() bool {
	return t.RefreshToken != ""
}

var errSchemaMismatch = errors.New("payload is not in the current tokens schema")

// DecodeTokens parses a payload in the current schema.
func DecodeTokens(data []byte) (Tokens, error) {
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, err
	}

	if t.Version != TokensSchemaVersion || t.Credentials.ClientID == "" {
		return Tokens{}, errSchemaMismatch
	}

	return t, nil
}

// EncodeTokens serializes tokens in the current schema.
func EncodeTokens(t Tokens) ([]byte, error) {
	t.Version = TokensSchemaVersion
	return json.Marshal(t)
}

// legacyTokens is the flat layout written by earlier releases. Scopes
// were space separated and expiry was epoch seconds.
type legacyTokens struct {
	ClientID        string `json:"clientId"`
	ClientUniqueKey string `json:"clientUniqueKey"`
	RequestedScopes string `json:"requestedScopes"`
	GrantedScopes   string `json:"grantedScopes"`
	UserID          string `json:"userId"`
	Expires         int64  `json:"expires"`
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
}

// DecodeLegacyTokens parses a legacy payload and converts it to the
// current schema, marking the result as needing an upgrade.
func DecodeLegacyTokens(data []byte) (Tokens, error) {
	var lt legacyTokens
	if err := json.Unmarshal(data, &lt); err != nil {
		return Tokens{}, err
	}

	if lt.ClientID == "" {
		return Tokens{}, errors.New("legacy payload has no client id")
	}

	var expires time.Time
	if lt.Expires > 0 {
		expires = time.Unix(lt.Expires, 0).UTC()
	}

	return Tokens{
		Version: TokensSchemaVersion,
		Credentials: Credentials{
			ClientID:        lt.ClientID,
			ClientUniqueKey: lt.ClientUniqueKey,
			RequestedScopes: strings.Fields(lt.RequestedScopes),
			GrantedScopes:   strings.Fields(lt.GrantedScopes),
			UserID:          lt.UserID,
			Expires:         expires,
			Token:           lt.AccessToken,
		},
		RefreshToken: lt.RefreshToken,
		NeedsUpgrade: true,
	}, nil
}
