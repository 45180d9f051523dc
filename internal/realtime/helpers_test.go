package realtime

import (
	"sync"
	"testing"
	"time"
)

// recordTransport captures sent messages and close calls.
type recordTransport struct {
	mu     sync.Mutex
	sent   []Message
	closes []int
	got    chan Message
	gate   chan struct{} // when set, Send waits until it is closed
}

func newRecordTransport() *recordTransport {
	return &recordTransport{got: make(chan Message, 256)}
}

func (r *recordTransport) Send(m Message) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.sent = append(r.sent, m)
	r.mu.Unlock()
	r.got <- m
	return nil
}

func (r *recordTransport) Close(code int, _ string) error {
	r.mu.Lock()
	r.closes = append(r.closes, code)
	r.mu.Unlock()
	return nil
}

func (r *recordTransport) closeCodes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.closes...)
}

func (r *recordTransport) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-r.got:
		return m
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func (r *recordTransport) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-r.got:
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(wait):
	}
}
