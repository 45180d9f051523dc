//go:build ignore

// Package main runs a demo WebSocket client: it subscribes to a team's
// payloads, then mutates a task over HTTP and prints the echoed event.
//
//	go run scripts/ws_client.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	port := env("PORT", "8080")
	token := env("TOKEN", "user1:team1")
	teamID := env("TEAM_ID", "team1")
	taskID := env("TASK_ID", "task1")

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/graphql/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	initPl, _ := json.Marshal(map[string]string{"authToken": token})
	if err := c.WriteJSON(wsMessage{Type: "connection_init", Payload: initPl}); err != nil {
		log.Fatal(err)
	}
	var ack wsMessage
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		log.Fatalf("handshake failed: %v %s", err, ack.Type)
	}

	sub, _ := json.Marshal(map[string]any{
		"query":     "subscription($teamId: ID!) { teamSubscription(teamId: $teamId) { __typename } }",
		"variables": map[string]any{"teamId": teamID},
	})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: sub}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := c.ReadJSON(&msg); err != nil {
				log.Printf("read: %v", err)
				return
			}
			switch msg.Type {
			case "ping":
				_ = c.WriteJSON(wsMessage{Type: "pong"})
			case "next", "error":
				log.Printf("%s %s: %s", msg.Type, msg.ID, msg.Payload)
			}
		}
	}()

	// give the subscription a moment, then mutate over HTTP tagged with our socket
	time.Sleep(300 * time.Millisecond)
	body, _ := json.Marshal(map[string]any{
		"query":     "mutation($taskId: ID!, $content: String) { updateTask(taskId: $taskId, content: $content) { task { id } } }",
		"variables": map[string]any{"taskId": taskID, "content": fmt.Sprintf("edited at %s", time.Now().Format(time.Kitchen))},
	})
	req, _ := http.NewRequest(http.MethodPost, "http://localhost:"+port+"/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("updateTask: %s", resp.Status)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
}
