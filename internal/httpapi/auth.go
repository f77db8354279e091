package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Administrative endpoints are gated on a shared token. Authorization
// policy proper (who holds the token) is the deployer's concern; the
// engine never sees it.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminToken == "" {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "admin access is not configured")
		return false
	}
	token := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "invalid admin token")
		return false
	}
	return true
}
