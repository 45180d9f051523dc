package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestDisconnectTearsEverythingDown(t *testing.T) {
	var hookCalls atomic.Int32
	var hookPrincipal atomic.Value
	h := NewHub(Options{OnDisconnect: func(connID, principalID string) {
		hookCalls.Add(1)
		hookPrincipal.Store(principalID)
	}})
	tr := newRecordTransport()
	c, _ := h.ConnectWithID("C", tr)
	if err := c.SetPrincipal("user1"); err != nil {
		t.Fatalf("set principal: %v", err)
	}
	var keepaliveStops atomic.Int32
	c.SetKeepalive(func() { keepaliveStops.Add(1) })

	_, _ = h.Subscribe("C", "TEAM", "team1", nil)
	_, _ = h.Subscribe("C", "TEAM", "team2", nil)
	_, _ = h.Subscribe("C", "TASK", "team1", nil)
	_, _ = h.Index.Subscribe("TEAM", "team1", "other", nil)

	rc, err := h.Begin(context.Background(), "C")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	started, release := make(chan struct{}), make(chan struct{})
	computed := make(chan error, 1)
	go func() {
		_, err := rc.Op.Compute(context.Background(), "archived:team1", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return 5, nil
		})
		computed <- err
	}()
	<-started

	assert.Equal(t, h.OnDisconnect("C", CloseNormal), true)
	close(release)

	if err := <-computed; !errors.Is(err, ErrOperationDropped) {
		t.Fatalf("in-flight computation: want ErrOperationDropped, got %v", err)
	}
	assert.Equal(t, len(h.Index.SubscriptionsOf("C")), 0)
	for _, tk := range [][2]string{{"TEAM", "team1"}, {"TEAM", "team2"}, {"TASK", "team1"}} {
		for _, s := range h.Index.SubscribersOf(tk[0], tk[1]) {
			if s.ConnID == "C" {
				t.Fatalf("index still references C on %v", tk)
			}
		}
	}
	if _, err := h.Registry.Lookup("C"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("registry still holds C: %v", err)
	}
	assert.Equal(t, c.State(), StateDisconnected)
	assert.Equal(t, tr.closeCodes(), []int{CloseNormal})
	assert.Equal(t, keepaliveStops.Load(), int32(1))
	assert.Equal(t, hookCalls.Load(), int32(1))
	assert.Equal(t, hookPrincipal.Load(), "user1")

	// duplicate signals (explicit close + transport error) are no-ops
	assert.Equal(t, h.OnDisconnect("C", 1006), false)
	assert.Equal(t, tr.closeCodes(), []int{CloseNormal})
	assert.Equal(t, hookCalls.Load(), int32(1))

	if _, err := h.Subscribe("C", "TEAM", "team1", nil); err == nil {
		t.Fatal("subscribe after teardown must fail")
	}
	if _, err := h.Begin(context.Background(), "C"); err == nil {
		t.Fatal("begin after teardown must fail")
	}
}

func TestSetPrincipalAfterDisconnect(t *testing.T) {
	var hookCalls atomic.Int32
	h := NewHub(Options{OnDisconnect: func(connID, principalID string) {
		hookCalls.Add(1)
	}})
	c, _ := h.ConnectWithID("C", newRecordTransport())
	assert.Equal(t, h.OnDisconnect("C", CloseGoingAway), true)
	assert.Equal(t, hookCalls.Load(), int32(0))

	if err := c.SetPrincipal("user1"); !errors.Is(err, ErrConnectionClosing) {
		t.Fatalf("want ErrConnectionClosing, got %v", err)
	}
	_, ok := c.PrincipalID()
	assert.Equal(t, ok, false)
}

func TestDisconnectRacingSignals(t *testing.T) {
	h := NewHub(Options{})
	tr := newRecordTransport()
	_, _ = h.ConnectWithID("C", tr)
	_, _ = h.Subscribe("C", "TEAM", "team1", nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.OnDisconnect("C", CloseNormal) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, wins.Load(), int32(1))
	assert.Equal(t, len(tr.closeCodes()), 1)
	assert.Equal(t, h.Index.Len(), 0)
}

func TestDisconnectBeforeDeliveryDropsQueued(t *testing.T) {
	h := NewHub(Options{})
	tr := newRecordTransport()
	tr.gate = make(chan struct{})
	_, _ = h.ConnectWithID("C", tr)
	_, _ = h.Subscribe("C", "TEAM", "team1", nil)

	h.OnDisconnect("C", CloseNormal)
	res := h.Publish(context.Background(), "TEAM", "team1", "X", map[string]int{}, PublishOptions{})
	close(tr.gate)
	assert.Equal(t, res.Delivered, 0)
	tr.expectNone(t, 20*time.Millisecond)
}

func TestSweeperReapsStaleConnections(t *testing.T) {
	h := NewHub(Options{})
	stale, live := newRecordTransport(), newRecordTransport()
	_, _ = h.ConnectWithID("stale", stale)
	_, _ = h.ConnectWithID("live", live)

	now := time.Now()
	_ = h.Registry.MarkAlive("stale", now.Add(-2*time.Minute))
	_ = h.Registry.MarkAlive("live", now)

	s := NewSweeper(h.Registry, h.Reaper, time.Second, time.Minute)
	s.now = func() time.Time { return now }
	assert.Equal(t, s.sweepOnce(), 1)
	assert.Equal(t, stale.closeCodes(), []int{CloseGoingAway})
	assert.Equal(t, len(live.closeCodes()), 0)
	assert.Equal(t, h.Registry.Len(), 1)
}
