package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 1 << 20 // 1 MiB

	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultStopTimeout      = 10 * time.Second

	// Keepalive defaults.
	defaultKeepAliveInterval = 15 * time.Second
	defaultKeepAliveTimeout  = 5 * time.Second
	maxPingFailures          = 3
)

// DefaultReconnectDelays is the wait before each reconnect attempt.
// The schedule is exhausted after the last entry.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}
