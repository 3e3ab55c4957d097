package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/authkeeper/internal/auth"
	"github.com/alexjbarnes/authkeeper/internal/config"
	"github.com/alexjbarnes/authkeeper/internal/logging"
	"github.com/alexjbarnes/authkeeper/internal/models"
	"github.com/alexjbarnes/authkeeper/internal/securestore"
	"github.com/alexjbarnes/authkeeper/internal/tokens"
	"github.com/alexjbarnes/authkeeper/internal/tokenservice"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend securestore.Backend
	store   *tokens.Store
	repo    *auth.Repository
}

func newApp(logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel, logOut)

	backend, err := securestore.Open(cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	logger.Debug("authkeeper starting",
		slog.String("version", Version),
		slog.String("store", cfg.StoreBackend),
		slog.Bool("sealed", cfg.StorePassphrase != ""),
		slog.String("key", cfg.CredentialsKey),
	)

	store := tokens.NewStore(backend, cfg.CredentialsKey, logger)

	repo := auth.NewRepository(auth.RepositoryConfig{
		ClientID:        cfg.ClientID,
		ClientUniqueKey: cfg.ClientUniqueKey,
		ClientSecret:    cfg.ClientSecret,
		Scopes:          cfg.Scopes,
		CredentialsKey:  cfg.CredentialsKey,
		ExpiryLeeway:    cfg.ExpiryLeeway,
		RetryPolicy:     cfg.RetryPolicy(),
		UpgradePolicy:   cfg.UpgradePolicy(),
	}, store, tokenservice.NewClient(cfg.TokenURL, nil), auth.NewCoordinator(logger), logger)

	repo.AddListener(func(ev auth.Event, creds models.Credentials) {
		logger.Info("credentials event",
			slog.String("event", string(ev)),
			slog.String("level", string(creds.Level())),
		)
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   store,
		repo:    repo,
	}, nil
}

func (a *app) close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("closing token store", slog.String("error", err.Error()))
	}
}
