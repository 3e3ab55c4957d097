package models

// RefreshTokenRequest renews user credentials with a refresh token.
type RefreshTokenRequest struct {
	ClientID        string
	ClientUniqueKey string
	RefreshToken    string
	Scopes          []string
}

// ClientSecretRequest obtains basic credentials with a client secret.
type ClientSecretRequest struct {
	ClientID        string
	ClientUniqueKey string
	ClientSecret    string
	Scopes          []string
}

// UpgradeRequest exchanges a refresh token issued under the legacy
// scheme for one issued under the current scheme.
type UpgradeRequest struct {
	ClientID        string
	ClientUniqueKey string
	RefreshToken    string
	Scopes          []string
}

// TokenResponse is a successful token endpoint response. ExpiresIn is
// in seconds. UserID is empty for client-credentials grants.
type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int64    `json:"expires_in"`
	UserID       string   `json:"user_id,omitempty"`
	Scopes       []string `json:"scope,omitempty"`
}
