package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BendDAO/bend-lending-protocol-sub001/observability/logging"
	"github.com/BendDAO/bend-lending-protocol-sub001/services/lendingd/config"
)

// authenticator guards the write routes. Requests must present either a
// configured API token or a verified client certificate with an allowed
// common name.
type authenticator struct {
	tokens      []string
	commonNames map[string]struct{}
	logger      *slog.Logger
}

func newAuthenticator(cfg config.AuthConfig, logger *slog.Logger) *authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &authenticator{commonNames: make(map[string]struct{}), logger: logger}
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			a.tokens = append(a.tokens, trimmed)
		}
	}
	for _, name := range cfg.MTLS.AllowedCommonNames {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			a.commonNames[trimmed] = struct{}{}
		}
	}
	return a
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokens) == 0 && len(a.commonNames) == 0 {
			writeJSONStatus(w, http.StatusForbidden, errorResponse{Error: "authentication is not configured"})
			return
		}
		if a.authenticateByToken(r) || a.authenticateByMTLS(r) {
			next.ServeHTTP(w, r)
			return
		}
		a.logger.Info("rejected unauthenticated write",
			slog.String("route", r.URL.Path),
			logging.MaskField("client", clientID(r)),
			logging.MaskField("api_token", presentedToken(r)))
		writeJSONStatus(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
	})
}

func (a *authenticator) authenticateByToken(r *http.Request) bool {
	if len(a.tokens) == 0 {
		return false
	}
	candidates := tokenCandidates(r)
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for _, token := range a.tokens {
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
				return true
			}
		}
	}
	return false
}

func (a *authenticator) authenticateByMTLS(r *http.Request) bool {
	if len(a.commonNames) == 0 || r.TLS == nil {
		return false
	}
	for _, chain := range r.TLS.VerifiedChains {
		if len(chain) == 0 {
			continue
		}
		if _, ok := a.commonNames[strings.TrimSpace(chain[0].Subject.CommonName)]; ok {
			return true
		}
	}
	return false
}

func tokenCandidates(r *http.Request) []string {
	return []string{parseBearerToken(r.Header.Get("Authorization")), strings.TrimSpace(r.Header.Get("X-Api-Token"))}
}

func presentedToken(r *http.Request) string {
	for _, candidate := range tokenCandidates(r) {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
