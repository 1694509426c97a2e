package app

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type readiness struct {
	Status        string `json:"status"`
	Authenticated bool   `json:"authenticated"`
	StoreEnabled  bool   `json:"store_enabled"`
	Hub           string `json:"hub"`
	HubError      string `json:"hub_error,omitempty"`
	Unread        int    `json:"unread"`
}

// Handler serves /healthz, /readyz and /metrics.
//
// /readyz is 200 while the store is enabled for an authenticated user. The
// hub state is reported but does not gate readiness, since polling keeps the
// store fresh without it.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		st := a.hub.Status()
		body := readiness{
			Status:        "ready",
			Authenticated: a.session.Authenticated(),
			StoreEnabled:  a.store.Enabled(),
			Hub:           st.State.String(),
			Unread:        a.store.UnreadTotal(),
		}
		if st.Err != nil {
			body.HubError = st.Err.Error()
		}

		code := http.StatusOK
		if !body.Authenticated || !body.StoreEnabled {
			body.Status = "not ready"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	return mux
}
