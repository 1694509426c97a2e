// Package app wires the chat client runtime: config, logging, the REST client,
// the hub connection, the conversation store and the health/metrics surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aifshop/cmd/internal/auth/session"
	"aifshop/cmd/internal/chat"
	"aifshop/cmd/internal/realtime"
	"aifshop/cmd/internal/restapi"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

// App owns one signed-in user's chat runtime.
type App struct {
	cfg Config
	log Logger

	reg     *prometheus.Registry
	session *session.Session
	api     *restapi.Client
	hub     *realtime.Controller
	store   *chat.Store

	startOnce sync.Once
}

// New builds an App from cfg. Nothing connects until Start.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens := cfg.TokenSource()
	sess := session.New(tokens)

	api, err := restapi.New(cfg.Hub.BaseURL, sess,
		restapi.WithHTTPClient(&http.Client{Timeout: cfg.REST.Timeout}),
		restapi.WithRateLimit(cfg.REST.RateLimit, cfg.REST.Burst),
		restapi.WithLogger(log.With("component", "rest")),
	)
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}

	rtCfg, err := cfg.RealtimeConfig(sess, realtime.NewMetrics(reg))
	if err != nil {
		return nil, fmt.Errorf("hub config: %w", err)
	}
	if err := rtCfg.Validate(); err != nil {
		return nil, err
	}
	hub := realtime.NewController(rtCfg, log)

	store := chat.New(api, chat.Options{
		Session:           sess,
		Realtime:          hub,
		PollInterval:      cfg.Chat.PollInterval,
		PageSize:          cfg.Chat.PageSize,
		MessagePageSize:   cfg.Chat.MessagePageSize,
		ResyncOnReconnect: cfg.Chat.ResyncOnReconnect,
		Metrics:           chat.NewMetrics(reg),
		Logger:            log,
	})
	hub.SetHandlers(store)

	return &App{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		session: sess,
		api:     api,
		hub:     hub,
		store:   store,
	}, nil
}

func (a *App) Config() Config { return a.cfg }

func (a *App) Store() *chat.Store { return a.store }

func (a *App) Hub() *realtime.Controller { return a.hub }

func (a *App) API() *restapi.Client { return a.api }

func (a *App) Session() *session.Session { return a.session }

// Start enables the store, which in turn enables the hub connection. It is a
// no-op when chat is disabled in the config or Start already ran.
func (a *App) Start() {
	a.startOnce.Do(a.start)
}

func (a *App) start() {
	if !a.cfg.Chat.Enabled {
		a.log.Info("app.start.skip", "reason", "chat disabled")
		return
	}
	if !a.session.Authenticated() {
		a.log.Warn("app.start.unauthenticated", "hint", "set AIFSHOP_TOKEN or auth.token_file")
	}
	a.store.Enable()
	a.log.Info("app.start", "user_id", a.session.UserID())
}

// Close disables the store and waits for the hub connection to stop.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.store.Close(ctx), a.hub.Close(ctx))
}

// Run starts the App and blocks until ctx is done. With metrics enabled it
// serves the health and metrics endpoints meanwhile.
func (a *App) Run(ctx context.Context) error {
	a.Start()
	go a.logStatus(ctx)

	var srv *http.Server
	errCh := make(chan error, 1)
	if a.cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           WithRequestLogging(a.Handler(), a.log.With("component", "http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.log.Info("server.start", "addr", a.cfg.Metrics.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("app.close.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("app.stopped")
	return runErr
}

// logStatus logs hub status transitions until ctx is done.
func (a *App) logStatus(ctx context.Context) {
	for st := range a.hub.Subscribe(ctx) {
		attrs := []any{"state", st.State.String()}
		if st.ConnectionID != "" {
			attrs = append(attrs, "connection_id", st.ConnectionID)
		}
		if st.Err != nil {
			attrs = append(attrs, "kind", realtime.KindOf(st.Err).String(), "err", st.Err)
			a.log.Warn("hub.status", attrs...)
			continue
		}
		a.log.Info("hub.status", attrs...)
	}
}
