package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aifshop/cmd/internal/app"
	"aifshop/cmd/internal/auth/session"
	"aifshop/cmd/internal/devhub"
	v1 "aifshop/contracts/hub/v1"

	"github.com/spf13/cobra"
)

const devhubSecretEnv = "AIFSHOP_DEVHUB_SECRET"

func newDevhubCmd(opts *options) *cobra.Command {
	var (
		addr     string
		secret   string
		seed     bool
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devhub",
		Short: "Run a local chat backend for development",
		Long: strings.TrimSpace(`
Serve the chat REST API and hub from memory. With --seed, two demo
conversations are created and a token is printed for each demo user; pass one
to the other commands with --token.

The signing secret comes from --secret or ` + devhubSecretEnv + `. Without
either, a random secret is generated and tokens do not survive a restart.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, format := "info", "pretty"
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			if opts.logFormat != "" {
				format = opts.logFormat
			}
			log := app.NewLogger(level, format)

			if secret == "" {
				secret = os.Getenv(devhubSecretEnv)
			}
			if secret == "" {
				b := make([]byte, 32)
				if _, err := rand.Read(b); err != nil {
					return fmt.Errorf("generate secret: %w", err)
				}
				secret = hex.EncodeToString(b)
				log.Warn("devhub.secret.generated", "hint", "set "+devhubSecretEnv+" to keep tokens valid across restarts")
			}

			issuer, err := session.NewIssuer([]byte(secret), "aifshop-devhub", tokenTTL)
			if err != nil {
				return err
			}
			srv, err := devhub.New(devhub.Options{Logger: log, Issuer: issuer, Seed: seed})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "devhub listening on http://%s (hub %s)\n", addr, devhub.DefaultHubPath)
			if seed {
				for _, u := range []v1.Participant{devhub.DemoBuyer, devhub.DemoSeller, devhub.DemoSeller2} {
					tok, err := srv.Token(u.UserID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  %-10s %-12s %s\n", u.Role, u.UserID, tok)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, &http.Server{
				Addr:              addr,
				Handler:           app.WithRequestLogging(srv.Handler(), log.With("component", "http")),
				ReadHeaderTimeout: 5 * time.Second,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret, at least 32 bytes (default $"+devhubSecretEnv+")")
	cmd.Flags().BoolVar(&seed, "seed", true, "create demo users and conversations")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of issued tokens")
	return cmd
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
