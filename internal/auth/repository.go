// Package auth keeps API credentials fresh for a client that makes many
// concurrent calls. Refreshes for one identity are coalesced by the
// Coordinator; the Repository decides when a refresh is needed and what
// to hand out when the authorization service is unavailable.
package auth

//go:generate mockgen -source=repository.go -destination=mocks_test.go -package=auth -exclude_interfaces=TokenStore

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
	"github.com/alexjbarnes/authkeeper/internal/models"
	"github.com/alexjbarnes/authkeeper/internal/retry"
)

// defaultExpiryLeeway is subtracted from a token's lifetime so it is
// renewed before the server starts rejecting it.
const defaultExpiryLeeway = 30 * time.Second

// Sub-status hints sent by API consumers after a request was rejected.
// Each means the current access token can no longer be used.
var invalidatingSubStatuses = []string{
	"11001", // not authorized
	"11002", // invalid token
	"11003", // expired token
}

// TokenService performs the grants against the authorization server.
// Failures carry an *autherrors.StatusError when the server answered.
type TokenService interface {
	RefreshByRefreshToken(ctx context.Context, req models.RefreshTokenRequest) (models.TokenResponse, error)
	RefreshByClientSecret(ctx context.Context, req models.ClientSecretRequest) (models.TokenResponse, error)
	UpgradeByRefreshToken(ctx context.Context, req models.UpgradeRequest) (models.TokenResponse, error)
}

// TokenStore persists the token aggregate.
type TokenStore interface {
	GetLatestTokens(ctx context.Context) (*models.Tokens, error)
	SaveTokens(ctx context.Context, t models.Tokens) error
	EraseTokens(ctx context.Context) error
}

// Event is a change in the credentials a Repository hands out.
type Event string

const (
	// EventCredentialsUpdated fires after new credentials are persisted.
	EventCredentialsUpdated Event = "credentials_updated"

	// EventLoggedOut fires after stored tokens are erased.
	EventLoggedOut Event = "logged_out"

	// EventRefreshRejected fires when the server definitively rejected
	// a refresh of stored credentials. The user has to log in again.
	EventRefreshRejected Event = "refresh_rejected"
)

// Listener receives repository events. It is called synchronously and
// must not call back into the Repository.
type Listener func(ev Event, creds models.Credentials)

// RepositoryConfig identifies the client and tunes refresh behaviour.
type RepositoryConfig struct {
	ClientID        string
	ClientUniqueKey string
	ClientSecret    string
	Scopes          []string

	// CredentialsKey names the credential identity. It defaults to
	// ClientID.
	CredentialsKey string

	ExpiryLeeway  time.Duration
	RetryPolicy   retry.Policy
	UpgradePolicy retry.Policy
}

// Repository is the entry point for obtaining credentials.
type Repository struct {
	cfg         RepositoryConfig
	store       TokenStore
	service     TokenService
	coordinator *Coordinator
	logger      *slog.Logger
	now         func() time.Time

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewRepository wires a repository. The coordinator may be shared by
// repositories for different identities.
func NewRepository(cfg RepositoryConfig, store TokenStore, service TokenService, coordinator *Coordinator, logger *slog.Logger) *Repository {
	if cfg.CredentialsKey == "" {
		cfg.CredentialsKey = cfg.ClientID
	}

	if cfg.ExpiryLeeway == 0 {
		cfg.ExpiryLeeway = defaultExpiryLeeway
	}

	return &Repository{
		cfg:         cfg,
		store:       store,
		service:     service,
		coordinator: coordinator,
		logger:      logger,
		now:         time.Now,
	}
}

// AddListener registers l for all subsequent events.
func (r *Repository) AddListener(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// GetCredentials returns credentials usable for an API call.
//
// subStatusHint is the sub-status of a rejected API call, or "". A hint
// saying the token is no longer valid forces a refresh even if the
// stored token has not expired.
//
// When the authorization server is unreachable or failing, the last
// stored credentials are returned, or basic credentials if nothing is
// stored. An error is returned when the server definitively rejects the
// client (an auth error) or when token storage fails (wraps
// autherrors.ErrStorage).
func (r *Repository) GetCredentials(ctx context.Context, subStatusHint string) (models.Credentials, error) {
	forced := slices.Contains(invalidatingSubStatuses, subStatusHint)

	stored, err := r.store.GetLatestTokens(ctx)
	if err != nil {
		return models.Credentials{}, err
	}

	if stored == nil {
		return r.bootstrap(ctx, forced)
	}

	upgrade := r.needsUpgrade(stored)
	if !forced && !upgrade && !stored.Credentials.IsExpired(r.now(), r.cfg.ExpiryLeeway) {
		return stored.Credentials, nil
	}

	creds, err := r.coordinator.RunOrJoin(ctx, r.cfg.CredentialsKey, forced || upgrade, r.renewer(forced || upgrade))
	if err == nil {
		return creds, nil
	}

	if autherrors.IsTransient(err) {
		r.logger.Warn("refresh failed, serving stored credentials",
			slog.String("key", r.cfg.CredentialsKey),
			slog.String("level", string(stored.Credentials.Level())),
			slog.String("error", err.Error()),
		)

		return stored.Credentials, nil
	}

	if autherrors.IsAuthError(err) {
		r.emit(EventRefreshRejected, stored.Credentials)
	}

	return models.Credentials{}, err
}

// SetCredentials stores credentials obtained elsewhere, typically by a
// login flow, replacing whatever was stored.
func (r *Repository) SetCredentials(ctx context.Context, creds models.Credentials, refreshToken string) error {
	t := models.Tokens{
		Credentials:  creds.Clone(),
		RefreshToken: refreshToken,
	}

	if err := r.store.SaveTokens(ctx, t); err != nil {
		return err
	}

	r.emit(EventCredentialsUpdated, t.Credentials)

	return nil
}

// Logout erases the stored tokens.
func (r *Repository) Logout(ctx context.Context) error {
	if err := r.store.EraseTokens(ctx); err != nil {
		return err
	}

	r.emit(EventLoggedOut, models.Credentials{})

	return nil
}

// bootstrap handles the case where nothing is stored yet.
func (r *Repository) bootstrap(ctx context.Context, forced bool) (models.Credentials, error) {
	if r.cfg.ClientSecret == "" {
		return r.basic(), nil
	}

	creds, err := r.coordinator.RunOrJoin(ctx, r.cfg.CredentialsKey, forced, r.renewer(forced))
	if err == nil {
		return creds, nil
	}

	if autherrors.IsTransient(err) {
		r.logger.Warn("bootstrap failed, serving basic credentials",
			slog.String("key", r.cfg.CredentialsKey),
			slog.String("error", err.Error()),
		)

		return r.basic(), nil
	}

	return models.Credentials{}, err
}

// renewer returns the coordinated operation for a task.
func (r *Repository) renewer(forced bool) Operation {
	return func(ctx context.Context) (models.Credentials, error) {
		return r.renew(ctx, forced)
	}
}

// renew reloads the stored tokens so a task queued behind another one
// starts from what that one persisted. Unless forced, tokens another
// task has already refreshed are returned as they are.
func (r *Repository) renew(ctx context.Context, forced bool) (models.Credentials, error) {
	stored, err := r.store.GetLatestTokens(ctx)
	if err != nil {
		return models.Credentials{}, err
	}

	if !forced && stored != nil && !r.needsUpgrade(stored) && !stored.Credentials.IsExpired(r.now(), r.cfg.ExpiryLeeway) {
		return stored.Credentials, nil
	}

	switch {
	case stored == nil:
		if r.cfg.ClientSecret == "" {
			return r.basic(), nil
		}

		return r.grantClientSecret(ctx)
	case r.needsUpgrade(stored):
		// Later forced callers can join the upgrade instead of queueing
		// another grant behind it.
		r.coordinator.UpgradeRefreshIntent(r.cfg.CredentialsKey)

		return r.grantUpgrade(ctx, stored)
	case stored.CanRefresh():
		return r.grantRefreshToken(ctx, stored)
	case r.cfg.ClientSecret != "":
		return r.grantClientSecret(ctx)
	}

	r.logger.Warn("stored credentials cannot be renewed",
		slog.String("key", r.cfg.CredentialsKey),
		slog.String("level", string(stored.Credentials.Level())),
	)

	return stored.Credentials, nil
}

func (r *Repository) needsUpgrade(t *models.Tokens) bool {
	return t.NeedsUpgrade && t.CanRefresh()
}

func (r *Repository) grantRefreshToken(ctx context.Context, stored *models.Tokens) (models.Credentials, error) {
	req := models.RefreshTokenRequest{
		ClientID:        r.cfg.ClientID,
		ClientUniqueKey: r.cfg.ClientUniqueKey,
		RefreshToken:    stored.RefreshToken,
		Scopes:          r.cfg.Scopes,
	}

	resp, err := retry.Do(ctx, r.cfg.RetryPolicy, func(ctx context.Context) (models.TokenResponse, error) {
		return r.service.RefreshByRefreshToken(ctx, req)
	}, r.giveUpHook("refresh_token"))
	if err != nil {
		return models.Credentials{}, err
	}

	return r.persist(ctx, resp, stored)
}

func (r *Repository) grantUpgrade(ctx context.Context, stored *models.Tokens) (models.Credentials, error) {
	req := models.UpgradeRequest{
		ClientID:        r.cfg.ClientID,
		ClientUniqueKey: r.cfg.ClientUniqueKey,
		RefreshToken:    stored.RefreshToken,
		Scopes:          r.cfg.Scopes,
	}

	resp, err := retry.Do(ctx, r.cfg.UpgradePolicy, func(ctx context.Context) (models.TokenResponse, error) {
		return r.service.UpgradeByRefreshToken(ctx, req)
	}, r.giveUpHook("upgrade"))
	if err != nil {
		return models.Credentials{}, err
	}

	r.logger.Info("upgraded legacy credentials", slog.String("key", r.cfg.CredentialsKey))

	return r.persist(ctx, resp, stored)
}

func (r *Repository) grantClientSecret(ctx context.Context) (models.Credentials, error) {
	req := models.ClientSecretRequest{
		ClientID:        r.cfg.ClientID,
		ClientUniqueKey: r.cfg.ClientUniqueKey,
		ClientSecret:    r.cfg.ClientSecret,
		Scopes:          r.cfg.Scopes,
	}

	resp, err := retry.Do(ctx, r.cfg.RetryPolicy, func(ctx context.Context) (models.TokenResponse, error) {
		return r.service.RefreshByClientSecret(ctx, req)
	}, r.giveUpHook("client_secret"))
	if err != nil {
		return models.Credentials{}, err
	}

	return r.persist(ctx, resp, nil)
}

// persist saves the grant response and returns the new credentials.
// prev supplies the user and refresh token when the response omits them.
func (r *Repository) persist(ctx context.Context, resp models.TokenResponse, prev *models.Tokens) (models.Credentials, error) {
	creds := models.Credentials{
		ClientID:        r.cfg.ClientID,
		ClientUniqueKey: r.cfg.ClientUniqueKey,
		RequestedScopes: slices.Clone(r.cfg.Scopes),
		GrantedScopes:   slices.Clone(resp.Scopes),
		UserID:          resp.UserID,
		Expires:         r.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Token:           resp.AccessToken,
	}

	if len(creds.GrantedScopes) == 0 {
		creds.GrantedScopes = slices.Clone(r.cfg.Scopes)
	}

	refreshToken := resp.RefreshToken

	if prev != nil {
		if creds.UserID == "" {
			creds.UserID = prev.Credentials.UserID
		}

		if refreshToken == "" {
			refreshToken = prev.RefreshToken
		}
	}

	if err := r.store.SaveTokens(ctx, models.Tokens{Credentials: creds, RefreshToken: refreshToken}); err != nil {
		return models.Credentials{}, err
	}

	r.logger.Debug("credentials refreshed",
		slog.String("key", r.cfg.CredentialsKey),
		slog.String("level", string(creds.Level())),
		slog.Time("expires", creds.Expires),
	)

	r.emit(EventCredentialsUpdated, creds)

	return creds, nil
}

func (r *Repository) basic() models.Credentials {
	return models.Basic(r.cfg.ClientID, r.cfg.ClientUniqueKey, r.cfg.Scopes, r.now())
}

func (r *Repository) giveUpHook(grant string) retry.Option {
	return retry.OnGiveUp(func(err error, attempts int) {
		r.logger.Warn("token grant gave up",
			slog.String("key", r.cfg.CredentialsKey),
			slog.String("grant", grant),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
	})
}

func (r *Repository) emit(ev Event, creds models.Credentials) {
	r.listenersMu.RLock()
	ls := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()

	for _, l := range ls {
		l(ev, creds.Clone())
	}
}
