// Package tokenservice implements the token grants against an OAuth 2
// token endpoint.
package tokenservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
	"github.com/alexjbarnes/authkeeper/internal/models"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxTokenResponseBytes caps response body reads. Token responses
	// are small JSON documents.
	maxTokenResponseBytes = 64 * 1024
)

// Grant types sent to the token endpoint.
const (
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
	grantTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"

	tokenTypeRefreshToken = "urn:ietf:params:oauth:token-type:refresh_token"
)

// Client talks to the token endpoint.
type Client struct {
	httpClient *http.Client
	tokenURL   string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so client secrets and refresh
// tokens never reach another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a token endpoint client. If httpClient is nil, a
// client with a 30-second timeout and same-host redirect policy is
// created.
func NewClient(tokenURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		tokenURL:   tokenURL,
	}
}

// RefreshByRefreshToken runs the refresh_token grant.
func (c *Client) RefreshByRefreshToken(ctx context.Context, req models.RefreshTokenRequest) (models.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantRefreshToken},
		"refresh_token": {req.RefreshToken},
		"client_id":     {req.ClientID},
	}
	setOptional(form, "client_unique_key", req.ClientUniqueKey)
	setOptional(form, "scope", strings.Join(req.Scopes, " "))

	resp, err := c.post(ctx, form)
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("refreshing by refresh token: %w", err)
	}

	return resp, nil
}

// RefreshByClientSecret runs the client_credentials grant.
func (c *Client) RefreshByClientSecret(ctx context.Context, req models.ClientSecretRequest) (models.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {grantClientCredentials},
		"client_id":     {req.ClientID},
		"client_secret": {req.ClientSecret},
	}
	setOptional(form, "client_unique_key", req.ClientUniqueKey)
	setOptional(form, "scope", strings.Join(req.Scopes, " "))

	resp, err := c.post(ctx, form)
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("refreshing by client secret: %w", err)
	}

	return resp, nil
}

// UpgradeByRefreshToken exchanges a legacy refresh token for a new
// token pair using the token exchange grant.
func (c *Client) UpgradeByRefreshToken(ctx context.Context, req models.UpgradeRequest) (models.TokenResponse, error) {
	form := url.Values{
		"grant_type":         {grantTokenExchange},
		"subject_token":      {req.RefreshToken},
		"subject_token_type": {tokenTypeRefreshToken},
		"client_id":          {req.ClientID},
	}
	setOptional(form, "client_unique_key", req.ClientUniqueKey)
	setOptional(form, "scope", strings.Join(req.Scopes, " "))

	resp, err := c.post(ctx, form)
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("upgrading refresh token: %w", err)
	}

	return resp, nil
}

func setOptional(form url.Values, key, value string) {
	if value != "" {
		form.Set(key, value)
	}
}

// post sends a form-encoded token request. Non-2xx answers become an
// *autherrors.StatusError carrying the server's sub-status. Transport
// failures are returned unwrapped by any status so they classify as
// generic network errors.
func (c *Client) post(ctx context.Context, form url.Values) (models.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("sending token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return models.TokenResponse{}, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.TokenResponse{}, statusError(resp.StatusCode, body)
	}

	return parseTokenResponse(body)
}

// statusError builds the transport error for a rejected request. The
// OAuth error code and description are used when the body has them.
func statusError(code int, body []byte) *autherrors.StatusError {
	se := &autherrors.StatusError{StatusCode: code}

	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		se.SubStatus = firstString(r, "sub_status", "subStatus")

		if e := r.Get("error").String(); e != "" {
			msg := e
			if d := r.Get("error_description").String(); d != "" {
				msg += ": " + d
			}

			se.Err = errors.New(sanitizeResponseBody([]byte(msg)))

			return se
		}
	}

	se.Err = fmt.Errorf("token endpoint returned %s: %s", http.StatusText(code), sanitizeResponseBody(body))

	return se
}

// parseTokenResponse reads a successful response. When the endpoint
// leaves out the user or the lifetime, they are taken from the claims
// of a JWT access token.
func parseTokenResponse(body []byte) (models.TokenResponse, error) {
	if !gjson.ValidBytes(body) {
		return models.TokenResponse{}, fmt.Errorf("%w: not JSON: %s", autherrors.ErrMalformedResponse, sanitizeResponseBody(body))
	}

	r := gjson.ParseBytes(body)

	out := models.TokenResponse{
		AccessToken:  r.Get("access_token").String(),
		RefreshToken: r.Get("refresh_token").String(),
		TokenType:    r.Get("token_type").String(),
		ExpiresIn:    r.Get("expires_in").Int(),
		UserID:       firstString(r, "user_id", "user.id"),
		Scopes:       strings.Fields(r.Get("scope").String()),
	}

	if out.AccessToken == "" {
		return models.TokenResponse{}, fmt.Errorf("%w: no access_token", autherrors.ErrMalformedResponse)
	}

	if out.UserID == "" || out.ExpiresIn == 0 {
		fillFromClaims(&out, time.Now())
	}

	return out, nil
}

// fillFromClaims reads uid/sub and exp from an access token that is a
// JWT. The signature is not checked: the token came straight from the
// token endpoint over TLS and only the resource server validates it.
// Opaque tokens are left alone.
func fillFromClaims(out *models.TokenResponse, now time.Time) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(out.AccessToken, claims); err != nil {
		return
	}

	if out.UserID == "" {
		switch uid := claims["uid"].(type) {
		case string:
			out.UserID = uid
		case float64:
			out.UserID = fmt.Sprintf("%.0f", uid)
		default:
			if sub, err := claims.GetSubject(); err == nil {
				out.UserID = sub
			}
		}
	}

	if out.ExpiresIn == 0 {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			out.ExpiresIn = max(int64(exp.Sub(now).Seconds()), 0)
		}
	}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}

	return ""
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
