package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTopicIndexSubscribeUnsubscribe(t *testing.T) {
	x := NewTopicIndex()
	a, err := x.Subscribe("TEAM", "team1", "A", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, _ := x.Subscribe("TEAM", "team1", "B", nil)
	_, _ = x.Subscribe("TEAM", "team2", "B", nil)

	subs := x.SubscribersOf("TEAM", "team1")
	assert.Equal(t, len(subs), 2)
	seen := map[string]string{}
	for _, s := range subs {
		seen[s.SubscriptionID] = s.ConnID
	}
	assert.Equal(t, seen[a], "A")
	assert.Equal(t, seen[b], "B")

	assert.Equal(t, x.Unsubscribe(a), true)
	assert.Equal(t, x.Unsubscribe(a), false)
	assert.Equal(t, len(x.SubscribersOf("TEAM", "team1")), 1)
	assert.Equal(t, x.Len(), 2)
}

func TestTopicIndexEmptyTopic(t *testing.T) {
	x := NewTopicIndex()
	if _, err := x.Subscribe("", "k", "A", nil); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("want ErrEmptyTopic, got %v", err)
	}
}

func TestTopicIndexUnsubscribeAll(t *testing.T) {
	x := NewTopicIndex()
	_, _ = x.Subscribe("TEAM", "team1", "C", nil)
	_, _ = x.Subscribe("TEAM", "team2", "C", nil)
	s3, _ := x.Subscribe("TASK", "team1", "C", nil)
	_, _ = x.Subscribe("TEAM", "team1", "D", nil)

	assert.Equal(t, len(x.SubscriptionsOf("C")), 3)
	assert.Equal(t, x.UnsubscribeAll("C"), 3)
	assert.Equal(t, x.UnsubscribeAll("C"), 0)
	assert.Equal(t, len(x.SubscriptionsOf("C")), 0)
	assert.Equal(t, x.Unsubscribe(s3), false)

	for _, tk := range [][2]string{{"TEAM", "team1"}, {"TEAM", "team2"}, {"TASK", "team1"}} {
		for _, s := range x.SubscribersOf(tk[0], tk[1]) {
			if s.ConnID == "C" {
				t.Fatalf("C still subscribed to %v", tk)
			}
		}
	}
	assert.Equal(t, x.Len(), 1)
}

func TestTopicIndexConcurrentIndicesAgree(t *testing.T) {
	x := NewTopicIndex()
	var wg sync.WaitGroup
	for c := 0; c < 16; c++ {
		conn := fmt.Sprintf("conn-%d", c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := x.Subscribe("TEAM", fmt.Sprintf("team%d", i%4), conn, nil)
				if err != nil {
					t.Errorf("subscribe: %v", err)
					return
				}
				if i%3 == 0 {
					x.Unsubscribe(id)
				}
				_ = x.SubscribersOf("TEAM", "team0")
			}
			x.UnsubscribeAll(conn)
		}()
	}
	wg.Wait()

	assert.Equal(t, x.Len(), 0)
	for i := 0; i < 4; i++ {
		assert.Equal(t, len(x.SubscribersOf("TEAM", fmt.Sprintf("team%d", i))), 0)
	}
}

func TestTopicIndexSubscribeWithID(t *testing.T) {
	x := NewTopicIndex()
	if err := x.SubscribeWithID("sub-1", "TEAM", "team1", "A", nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subs := x.SubscribersOf("TEAM", "team1")
	assert.Equal(t, len(subs), 1)
	assert.Equal(t, subs[0].SubscriptionID, "sub-1")

	if err := x.SubscribeWithID("sub-1", "TEAM", "team2", "B", nil); !errors.Is(err, ErrDuplicateSubscription) {
		t.Fatalf("want ErrDuplicateSubscription, got %v", err)
	}
	assert.Equal(t, x.Len(), 1)
	assert.Equal(t, len(x.SubscribersOf("TEAM", "team2")), 0)
	assert.Equal(t, len(x.SubscriptionsOf("B")), 0)

	if err := x.SubscribeWithID("", "TEAM", "team1", "A", nil); err == nil {
		t.Fatal("empty subscription id must be rejected")
	}
}
