package realtime

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TransportWebSockets is the only transport value Config accepts.
const TransportWebSockets = "websockets"

// Config describes one hub connection.
type Config struct {
	// HubURL is the absolute hub endpoint (http, https, ws or wss).
	HubURL string

	// TokenSource is asked for a bearer token on every connection attempt.
	TokenSource oauth2.TokenSource

	// AutoReconnect retries dropped connections on ReconnectDelays.
	AutoReconnect   bool
	ReconnectDelays []time.Duration

	// SkipNegotiation dials the websocket directly. Transport must then be websockets.
	SkipNegotiation bool
	Transport       string

	// HTTPClient is used for negotiation only.
	HTTPClient *http.Client

	// KeepAliveInterval between client pings; negative disables them.
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelays == nil {
		c.ReconnectDelays = DefaultReconnectDelays
	}
	if strings.TrimSpace(c.Transport) == "" {
		c.Transport = TransportWebSockets
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultHandshakeTimeout}
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Validate checks the fields Start depends on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HubURL) == "" {
		return &Error{Kind: KindConfig, Op: "config", Err: fmt.Errorf("missing hub url")}
	}
	if _, err := ResolveHubURL("", c.HubURL); err != nil {
		return &Error{Kind: KindConfig, Op: "config", Err: err}
	}
	if !strings.EqualFold(strings.TrimSpace(c.Transport), TransportWebSockets) && strings.TrimSpace(c.Transport) != "" {
		return &Error{Kind: KindConfig, Op: "config", Err: fmt.Errorf("%w: %q", ErrUnsupportedTransport, c.Transport)}
	}
	for _, d := range c.ReconnectDelays {
		if d < 0 {
			return &Error{Kind: KindConfig, Op: "config", Err: fmt.Errorf("negative reconnect delay %s", d)}
		}
	}
	return nil
}
