package api

import (
	"net/http"
	"time"

	"teamsync/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	rt := s.Config.Realtime
	info := map[string]any{
		"build":    buildinfo.Info(),
		"time":     time.Now().UTC().Format(time.RFC3339),
		"node":     s.NodeID,
		"realtime": s.Hub.Stats(),
		"config": map[string]any{
			"port":              s.Config.Port,
			"authMode":          s.Auth.Mode,
			"keepaliveInterval": rt.KeepaliveInterval.String(),
			"keepaliveTimeout":  rt.KeepaliveTimeout.String(),
			"outboxSize":        rt.OutboxSize,
			"rateRps":           rt.RateRPS,
			"rateBurst":         rt.RateBurst,
			"hasDatabaseUrl":    s.Config.DatabaseURL != "",
			"hasRedisUrl":       s.Config.RedisURL != "",
		},
	}
	writeJSON(w, http.StatusOK, info)
}
