package devhub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"aifshop/cmd/internal/auth/session"
	v1 "aifshop/contracts/hub/v1"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type claimsKey struct{}

func withClaims(ctx context.Context, c session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func claimsFrom(ctx context.Context) (session.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(session.Claims)
	return c, ok
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter browsers use for websocket upgrades.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// authenticate verifies the bearer token and stores its claims on the request.
func authenticate(log *slog.Logger, issuer *session.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := issuer.Verify(bearerToken(r))
			if err != nil {
				msg := "unauthorized"
				if errors.Is(err, session.ErrTokenExpired) {
					msg = "token expired"
				}
				log.Info("devhub.auth.reject",
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"err", err,
				)
				fail(w, r, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, v1.Response[any]{Succeeded: false, Message: msg})
}

func succeed[T any](w http.ResponseWriter, r *http.Request, data T) {
	render.JSON(w, r, v1.Response[T]{Succeeded: true, Data: data})
}
