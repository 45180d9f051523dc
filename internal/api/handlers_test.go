package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"

	"teamsync/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Status int                        `json:"status"`
	Code   string                     `json:"code"`
}

func postGraphQL(t *testing.T, s *Server, user, query string, vars map[string]any, hdr map[string]string) (int, gqlResponse) {
	t.Helper()
	b, _ := json.Marshal(map[string]any{"query": query, "variables": vars})
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	var out gqlResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return rr.Code, out
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestDebugAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	if rr.Code != 200 {
		t.Fatalf("debug: got %d", rr.Code)
	}
	var info map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &info)
	if _, ok := info["realtime"]; !ok {
		t.Fatalf("debug: missing realtime stats: %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("metrics: got %d", rr.Code)
	}
}

func TestGraphQLQueries(t *testing.T) {
	s := newTestServer(t)

	code, res := postGraphQL(t, s, "user1:team1", `query { reflectTemplatePrompts(templateId: $templateId) { id question } }`,
		map[string]any{"templateId": "tpl1"}, nil)
	if code != 200 {
		t.Fatalf("prompts: got %d", code)
	}
	var prompts []map[string]any
	_ = json.Unmarshal(res.Data["reflectTemplatePrompts"], &prompts)
	assert.Equal(t, len(prompts), 2)
	assert.Equal(t, prompts[0]["id"], "prompt1")

	// task3 is private to user2
	_, res = postGraphQL(t, s, "user1:team1", `query { archivedTasksCount }`, map[string]any{"teamId": "team1"}, nil)
	assert.Equal(t, string(res.Data["archivedTasksCount"]), "1")
	_, res = postGraphQL(t, s, "user2:team1", `query { archivedTasksCount }`, map[string]any{"teamId": "team1"}, nil)
	assert.Equal(t, string(res.Data["archivedTasksCount"]), "2")

	_, res = postGraphQL(t, s, "user1:team1", `{ team }`, map[string]any{"teamId": "team1"}, nil)
	var team map[string]any
	_ = json.Unmarshal(res.Data["team"], &team)
	assert.Equal(t, team["name"], "Demo Team")
}

func TestGraphQLErrors(t *testing.T) {
	s := newTestServer(t)

	code, _ := postGraphQL(t, s, "", `{ team }`, map[string]any{"teamId": "team1"}, nil)
	assert.Equal(t, code, http.StatusUnauthorized)

	code, res := postGraphQL(t, s, "user9:team9", `{ team }`, map[string]any{"teamId": "team1"}, nil)
	assert.Equal(t, code, http.StatusForbidden)
	assert.Equal(t, res.Code, "FORBIDDEN")

	code, _ = postGraphQL(t, s, "user1:team1", `{ nope }`, nil, nil)
	assert.Equal(t, code, http.StatusBadRequest)

	code, _ = postGraphQL(t, s, "user1:team1", `subscription { teamSubscription }`, map[string]any{"teamId": "team1"}, nil)
	assert.Equal(t, code, http.StatusBadRequest)

	code, _ = postGraphQL(t, s, "user1:team1", `{ team }`, map[string]any{"teamId": "missing"}, nil)
	assert.Equal(t, code, http.StatusForbidden)

	// user1 may not edit user2's private task
	code, _ = postGraphQL(t, s, "user1:team1", `mutation { updateTask }`, map[string]any{"taskId": "task3", "content": "x"}, nil)
	assert.Equal(t, code, http.StatusForbidden)
}

func TestRemovePromptKeepsLastOne(t *testing.T) {
	s := newTestServer(t)
	m := `mutation { removeReflectTemplatePrompt(promptId: $promptId) { prompt { id } } }`

	code, _ := postGraphQL(t, s, "user1:team1", m, map[string]any{"promptId": "prompt1"}, nil)
	if code != 200 {
		t.Fatalf("remove prompt1: got %d", code)
	}

	code, res := postGraphQL(t, s, "user1:team1", m, map[string]any{"promptId": "prompt2"}, nil)
	assert.Equal(t, code, http.StatusBadRequest)
	assert.Equal(t, res.Code, "BAD_USER_INPUT")

	_, res = postGraphQL(t, s, "user1:team1", `{ reflectTemplatePrompts }`, map[string]any{"templateId": "tpl1"}, nil)
	var prompts []map[string]any
	_ = json.Unmarshal(res.Data["reflectTemplatePrompts"], &prompts)
	assert.Equal(t, len(prompts), 1)
}

func TestAddPromptAndDuplicate(t *testing.T) {
	s := newTestServer(t)
	m := `mutation { addReflectTemplatePrompt }`
	vars := map[string]any{"templateId": "tpl1", "question": "  Any blockers?  "}

	code, res := postGraphQL(t, s, "user1:team1", m, vars, nil)
	if code != 200 {
		t.Fatalf("add: got %d", code)
	}
	var payload AddReflectTemplatePromptPayload
	_ = json.Unmarshal(res.Data["addReflectTemplatePrompt"], &payload)
	assert.Equal(t, payload.Prompt.Question, "Any blockers?")
	assert.Equal(t, payload.Prompt.TeamID, "team1")
	assert.Equal(t, payload.Prompt.SortOrder, float64(2))

	code, _ = postGraphQL(t, s, "user1:team1", m, vars, nil)
	assert.Equal(t, code, http.StatusConflict)

	code, _ = postGraphQL(t, s, "user1:team1", m, map[string]any{"templateId": "tpl1", "question": " "}, nil)
	assert.Equal(t, code, http.StatusBadRequest)
}

func TestArchiveTask(t *testing.T) {
	s := newTestServer(t)
	code, res := postGraphQL(t, s, "user1:team1", `mutation { archiveTask }`, map[string]any{"taskId": "task1"}, nil)
	if code != 200 {
		t.Fatalf("archive: got %d", code)
	}
	var payload ArchiveTaskPayload
	_ = json.Unmarshal(res.Data["archiveTask"], &payload)
	assert.Equal(t, payload.Task.IsArchived(), true)

	_, res = postGraphQL(t, s, "user1:team1", `query { archivedTasksCount }`, map[string]any{"teamId": "team1"}, nil)
	assert.Equal(t, string(res.Data["archivedTasksCount"]), "2")
}
