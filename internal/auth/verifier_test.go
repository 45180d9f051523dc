package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestDevToken(t *testing.T) {
	v := NewVerifier("", "", "")
	p, err := v.Verify("user1:team1, team2")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	assert.Equal(t, p.UserID, "user1")
	assert.Equal(t, p.Teams, []string{"team1", "team2"})
	assert.Equal(t, p.IsTeamMember("team2"), true)
	assert.Equal(t, p.IsTeamMember("team3"), false)

	if _, err := v.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("want ErrMissingToken, got %v", err)
	}
	if _, err := v.Verify(":team1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestHMACRoundTrip(t *testing.T) {
	v := NewVerifier("hmac", "s3cret", "teamsync")
	tok, err := v.Issue(Principal{UserID: "user1", Teams: []string{"team1"}, Role: "Admin"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	assert.Equal(t, p.UserID, "user1")
	assert.Equal(t, p.IsAdmin(), true)
	assert.Equal(t, p.IsTeamMember("team1"), true)
}

func TestHMACRejects(t *testing.T) {
	v := NewVerifier("hmac", "s3cret", "teamsync")
	other := NewVerifier("hmac", "different", "teamsync")
	tok, _ := other.Issue(Principal{UserID: "user1"}, time.Minute)
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bad signature: want ErrInvalidToken, got %v", err)
	}

	expired, _ := v.Issue(Principal{UserID: "user1"}, -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: want ErrInvalidToken, got %v", err)
	}

	wrongIss, _ := NewVerifier("hmac", "s3cret", "elsewhere").Issue(Principal{UserID: "user1"}, time.Minute)
	if _, err := v.Verify(wrongIss); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer: want ErrInvalidToken, got %v", err)
	}
}
