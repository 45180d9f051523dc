// Package api serves the realtime GraphQL surface of the service over
// WebSocket and HTTP.
package api

import (
	"net/http"
	"strings"

	"teamsync/internal/auth"
)

// principalFromRequest verifies the bearer token of an HTTP request.
// In dev mode the X-User-Id / X-Team-Ids headers are accepted as a fallback.
func (s *Server) principalFromRequest(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
	}
	if s.Auth.Mode == "dev" {
		if uid := r.Header.Get("X-User-Id"); uid != "" {
			return s.Auth.Verify(uid + ":" + r.Header.Get("X-Team-Ids"))
		}
	}
	return auth.Principal{}, auth.ErrMissingToken
}

// authorizeTeam reports errForbidden unless p may act on teamID.
func authorizeTeam(p auth.Principal, teamID string) error {
	if p.IsAdmin() || p.IsTeamMember(teamID) {
		return nil
	}
	return errForbidden
}
