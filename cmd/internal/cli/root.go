// Package cli is the aifshop-chat command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"aifshop/cmd/internal/app"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	envFile    string
	baseURL    string
	token      string
	logLevel   string
	logFormat  string
	noColor    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "aifshop-chat",
		Short: "Marketplace buyer/seller chat client",
		Long: strings.TrimSpace(`
aifshop-chat keeps a live view of your marketplace conversations. It listens on
the chat hub for pushed messages and falls back to polling the REST API when
the hub is unreachable.
`),
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if opts.envFile == "" {
				return nil
			}
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config; missing files are ignored")
	pf.StringVar(&opts.baseURL, "base-url", "", "marketplace API base URL (overrides hub.base_url)")
	pf.StringVar(&opts.token, "token", "", "bearer token (overrides auth.token)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "", "pretty or json")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newFollowCmd(opts),
		newConversationsCmd(opts),
		newUnreadCmd(opts),
		newSendCmd(opts),
		newReadCmd(opts),
		newPrefsCmd(opts),
		newDevhubCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// config loads the config file and environment, then applies flag overrides.
func (o *options) config() (app.Config, error) {
	cfg, err := app.LoadConfig(o.configPath)
	if err != nil {
		return app.Config{}, err
	}
	if o.baseURL != "" {
		cfg.Hub.BaseURL = o.baseURL
	}
	if o.token != "" {
		cfg.Auth.Token = o.token
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func (o *options) logger(cfg app.Config) app.Logger {
	return app.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
}

// withApp runs fn against an App that has not been started: REST calls only,
// no hub connection.
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, o.logger(cfg))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()
	return fn(cmd.Context(), a)
}

func (o *options) printer(cmd *cobra.Command, me string) *printer {
	return newPrinter(cmd.OutOrStdout(), me, !color.NoColor && !o.noColor)
}
