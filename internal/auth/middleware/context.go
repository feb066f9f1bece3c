package auth

import (
	"net/http"
	"strings"
)

// tokenFromRequest reads the Authorization header, or the access_token query
// parameter on WebSocket upgrades where browsers cannot set headers.
func tokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		return tok, tok != ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, true
		}
	}
	return "", false
}
