package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultHubPath is where the chat hub is mounted relative to the API base URL.
const DefaultHubPath = "/hubs/chat"

// ResolveHubURL resolves hubPath against baseURL. An absolute hubPath is used
// verbatim; a relative one keeps baseURL's host and any path prefix, which is
// how proxied deployments mount the hub next to the API.
func ResolveHubURL(baseURL, hubPath string) (string, error) {
	hubPath = strings.TrimSpace(hubPath)
	if hubPath == "" {
		hubPath = DefaultHubPath
	}

	ref, err := url.Parse(hubPath)
	if err != nil {
		return "", fmt.Errorf("parse hub path: %w", err)
	}
	if ref.IsAbs() {
		if err := checkHubScheme(ref); err != nil {
			return "", err
		}
		return ref.String(), nil
	}

	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return "", fmt.Errorf("base url must be absolute, got %q", baseURL)
	}
	if err := checkHubScheme(base); err != nil {
		return "", err
	}

	out := *base
	out.Path = path.Join("/", base.Path, ref.Path)
	out.RawPath = ""
	out.RawQuery = ref.RawQuery
	out.Fragment = ""
	return out.String(), nil
}

func checkHubScheme(u *url.URL) error {
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("unsupported hub url scheme: %q", u.Scheme)
	}
}

// wsURL rewrites http(s) to ws(s). Bare host:port gets ws://.
func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw
	default:
		return "ws://" + raw
	}
}

// httpURL rewrites ws(s) to http(s) for plain HTTP calls against the hub.
func httpURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	default:
		return raw
	}
}

// negotiateURL appends /negotiate to the hub path, preserving the query.
func negotiateURL(hub string) (string, error) {
	u, err := url.Parse(httpURL(hub))
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("hub url missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	u.RawPath = ""
	return u.String(), nil
}
