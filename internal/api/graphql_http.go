package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// GraphQLHTTPHandler serves queries and mutations over POST /graphql.
// A client that also holds a socket sends its id in X-Socket-Id so the
// echo of its own mutation can be recognised by mutatorId.
func (s *Server) GraphQLHTTPHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body subscribePayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	p, err := s.principalFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	op, err := parseOperation(body.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if op.Kind == "subscription" {
		writeError(w, r, fmt.Errorf("%w: subscriptions require /graphql/ws", errUnsupported))
		return
	}
	rc := s.Hub.BeginDetached(r.Context(), r.Header.Get("X-Socket-Id"))
	defer rc.End()
	res, err := s.execute(rc.Op.Context(), rc, p, op, body.Variables)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{op.Field: res}})
}
