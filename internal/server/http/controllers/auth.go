package controllers

import (
	"net/http"
	"strings"

	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/identity"
)

// credential extracts the API secret from the Authorization header
// (Bearer form) or, for EventSource clients that cannot set headers, the
// api_key query parameter.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("api_key")
}

// authorize resolves the request's credential via the identity store.
func authorize(a identity.Authorizer, r *http.Request) (identity.AuthContext, error) {
	secret := credential(r)
	if secret == "" {
		return identity.AuthContext{}, fault.New(fault.Unauthorized, "missing credential")
	}
	return a.Authorize(r.Context(), secret)
}

// withAuth wraps a handler with credential resolution.
func withAuth(a identity.Authorizer, next func(w http.ResponseWriter, r *http.Request, ac identity.AuthContext)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := authorize(a, r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, ac)
	}
}
