package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/authkeeper/internal/models"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var a *app

	cmd := &cobra.Command{
		Use:           "authkeeper",
		Short:         "Keep API credentials fresh",
		Long:          "authkeeper obtains, refreshes and stores API credentials for a client. Configuration is read from the environment or a .env file.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			var err error

			a, err = newApp(stderr)

			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.close()
			}
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	appFn := func() *app { return a }

	cmd.AddCommand(
		newGetCmd(appFn),
		newSetCmd(appFn),
		newLogoutCmd(appFn),
		newWatchCmd(appFn),
	)

	return cmd
}

// credentialsView is how credentials are printed. The token is masked
// unless asked for.
type credentialsView struct {
	ClientID        string    `json:"client_id" yaml:"client_id"`
	Level           string    `json:"level" yaml:"level"`
	UserID          string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	RequestedScopes []string  `json:"requested_scopes,omitempty" yaml:"requested_scopes,omitempty"`
	GrantedScopes   []string  `json:"granted_scopes,omitempty" yaml:"granted_scopes,omitempty"`
	Expires         time.Time `json:"expires" yaml:"expires"`
	Token           string    `json:"token,omitempty" yaml:"token,omitempty"`
}

func render(w io.Writer, creds models.Credentials, format string, showToken bool) error {
	v := credentialsView{
		ClientID:        creds.ClientID,
		Level:           string(creds.Level()),
		UserID:          creds.UserID,
		RequestedScopes: creds.RequestedScopes,
		GrantedScopes:   creds.GrantedScopes,
		Expires:         creds.Expires.UTC(),
		Token:           maskToken(creds.Token, showToken),
	}

	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

func maskToken(token string, show bool) string {
	if show || token == "" {
		return token
	}

	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}

	return token[:4] + strings.Repeat("*", 8) + token[len(token)-4:]
}

func newGetCmd(appFn func() *app) *cobra.Command {
	var (
		subStatus   string
		output      string
		showToken   bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print usable credentials, refreshing them if needed",
		Long: `Print usable credentials, refreshing them if needed.

With --sub-status, pass the sub-status of a rejected API call. Values that
mean the token is no longer valid force a refresh. With --concurrency,
several callers ask at once and share a single refresh.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}

			a := appFn()
			results := make([]models.Credentials, concurrency)

			g, gctx := errgroup.WithContext(cmd.Context())
			for i := range concurrency {
				g.Go(func() error {
					creds, err := a.repo.GetCredentials(gctx, subStatus)
					results[i] = creds

					return err
				})
			}

			if err := g.Wait(); err != nil {
				return fmt.Errorf("getting credentials: %w", err)
			}

			if concurrency > 1 {
				a.logger.Debug("concurrent callers served", slog.Int("callers", concurrency))
			}

			return render(cmd.OutOrStdout(), results[0], output, showToken)
		},
	}

	cmd.Flags().StringVar(&subStatus, "sub-status", "", "Sub-status of a rejected API call")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format (json or yaml)")
	cmd.Flags().BoolVar(&showToken, "show-token", false, "Print the access token unmasked")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of concurrent callers")

	return cmd
}

func newSetCmd(appFn func() *app) *cobra.Command {
	var (
		userID       string
		token        string
		refreshToken string
		expiresIn    time.Duration
		scopes       []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store credentials obtained by a login flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}

			a := appFn()

			if len(scopes) == 0 {
				scopes = a.cfg.Scopes
			}

			creds := models.Credentials{
				ClientID:        a.cfg.ClientID,
				ClientUniqueKey: a.cfg.ClientUniqueKey,
				RequestedScopes: a.cfg.Scopes,
				GrantedScopes:   scopes,
				UserID:          userID,
				Expires:         time.Now().Add(expiresIn),
				Token:           token,
			}

			if err := a.repo.SetCredentials(cmd.Context(), creds, refreshToken); err != nil {
				return fmt.Errorf("storing credentials: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored %s credentials for %s\n", creds.Level(), a.cfg.CredentialsKey)

			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "User the token was issued to")
	cmd.Flags().StringVar(&token, "token", "", "Access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "Access token lifetime")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Granted scopes (defaults to AUTH_SCOPES)")

	return cmd
}

func newLogoutCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Erase stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()

			if err := a.repo.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logging out: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "logged out %s\n", a.cfg.CredentialsKey)

			return nil
		},
	}
}

func newWatchCmd(appFn func() *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep credentials fresh until interrupted",
		Long: `Keep credentials fresh until interrupted.

Credentials are checked every --interval and refreshed when they are about
to expire. With the file backend, writes made by other processes are picked
up immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}

			a := appFn()
			g, gctx := errgroup.WithContext(cmd.Context())

			g.Go(func() error {
				return a.store.WatchBackend(gctx)
			})

			g.Go(func() error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					creds, err := a.repo.GetCredentials(gctx, "")
					if err != nil {
						a.logger.Error("getting credentials", slog.String("error", err.Error()))
					} else {
						a.logger.Info("credentials ready",
							slog.String("level", string(creds.Level())),
							slog.Time("expires", creds.Expires),
						)
					}

					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})

			err := g.Wait()
			if cmd.Context().Err() != nil {
				return nil
			}

			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "How often to check credentials")

	return cmd
}
