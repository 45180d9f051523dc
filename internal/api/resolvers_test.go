package api

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"teamsync/internal/auth"
)

func TestParseOperation(t *testing.T) {
	cases := []struct {
		doc   string
		kind  string
		field string
	}{
		{`{ team }`, "query", "team"},
		{`query Prompts($templateId: ID!) { reflectTemplatePrompts(templateId: $templateId) { id } }`, "query", "reflectTemplatePrompts"},
		{`mutation{updateTask(taskId:$id){task{id}}}`, "mutation", "updateTask"},
		{"subscription {\n  sub: teamSubscription(teamId: $teamId) { __typename }\n}", "subscription", "teamSubscription"},
	}
	for _, c := range cases {
		op, err := parseOperation(c.doc)
		if err != nil {
			t.Fatalf("%q: %v", c.doc, err)
		}
		assert.Equal(t, op.Kind, c.kind)
		assert.Equal(t, op.Field, c.field)
	}

	for _, bad := range []string{"", "fragment X on Y { a }", "query", "query { }"} {
		if _, err := parseOperation(bad); !errors.Is(err, errBadInput) {
			t.Fatalf("%q: want errBadInput, got %v", bad, err)
		}
	}
}

func TestTaskFilter(t *testing.T) {
	f := taskFilter("user1")
	assert.Equal(t, f(map[string]any{"prompt": map[string]any{}}), false)
	assert.Equal(t, f(map[string]any{"task": map[string]any{"userId": "user2", "tags": []any{"archived"}}}), true)
	assert.Equal(t, f(map[string]any{"task": map[string]any{"userId": "user2", "tags": []any{"private"}}}), false)
	assert.Equal(t, f(map[string]any{"task": map[string]any{"userId": "user1", "tags": []any{"private"}}}), true)
}

func TestSubscriptionTarget(t *testing.T) {
	p := auth.Principal{UserID: "user1", Teams: []string{"team1"}}
	topic, key, filter, err := subscriptionTarget(p, "teamSubscription", map[string]any{"teamId": "team1"})
	if err != nil {
		t.Fatalf("teamSubscription: %v", err)
	}
	assert.Equal(t, topic, TopicTeam)
	assert.Equal(t, key, "team1")
	assert.Equal(t, filter == nil, true)

	if _, _, f, _ := subscriptionTarget(p, "taskSubscription", map[string]any{"teamId": "team1"}); f == nil {
		t.Fatal("taskSubscription should filter")
	}
	if _, _, _, err := subscriptionTarget(p, "teamSubscription", map[string]any{"teamId": "team2"}); !errors.Is(err, errForbidden) {
		t.Fatalf("want errForbidden, got %v", err)
	}
	if _, _, _, err := subscriptionTarget(p, "teamSubscription", nil); !errors.Is(err, errBadInput) {
		t.Fatalf("want errBadInput, got %v", err)
	}
	if _, _, _, err := subscriptionTarget(p, "nope", map[string]any{"teamId": "team1"}); !errors.Is(err, errUnsupported) {
		t.Fatalf("want errUnsupported, got %v", err)
	}
}

func TestNormalizeTags(t *testing.T) {
	tags, err := normalizeTags([]string{" Private ", "archived", "private"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	assert.Equal(t, tags, []string{"private", "archived"})
	if _, err := normalizeTags([]string{"ok", " "}); !errors.Is(err, errBadInput) {
		t.Fatalf("want errBadInput, got %v", err)
	}
}
