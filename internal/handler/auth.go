package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"doc-queue/internal/models"
)

var errUnauthorized = errors.New("bearer token required")

// demoAccount is the account every accepted token resolves to
var demoAccount = models.Account{ID: "acc_acme_123", ClientID: "acme-corp"}

type accountKey struct{}

// AccountFromContext returns the account set by RequireAuth
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(accountKey{}).(models.Account)
	return account, ok
}

// RequireAuth accepts any non-empty bearer token and attaches the demo account.
// Requests without one get 401.
func RequireAuth(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := validateToken(r.Header.Get("Authorization"))
		if !ok {
			respondError(w, logger, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

func validateToken(header string) (models.Account, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return models.Account{}, false
	}
	return demoAccount, true
}
