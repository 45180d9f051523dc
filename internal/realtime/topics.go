package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"teamsync/internal/metrics"
)

// Filter narrows a subscription to payloads it accepts. It sees the
// published data decoded from JSON, so locally published and relayed
// payloads look the same.
type Filter func(data map[string]any) bool

// Subscriber is a snapshot entry returned by SubscribersOf.
type Subscriber struct {
	SubscriptionID string
	ConnID         string
	Filter         Filter
}

type subscription struct {
	id     string
	topic  topicKey
	connID string
	filter Filter
}

type topicKey struct {
	topic string
	key   string
}

// TopicIndex maps (topic, topicKey) to subscriptions and each connection to
// the subscriptions it owns. Records live in one arena keyed by subscription
// id; both indices point into it and are updated under the same critical
// section. Lock order is connection shard, then topic shard, then arena shard.
type TopicIndex struct {
	byConn  [shardCount]connShard
	byTopic [shardCount]topicShard
	arena   [shardCount]arenaShard
}

type connShard struct {
	mu   sync.Mutex
	subs map[string]map[string]*subscription
}

type topicShard struct {
	mu   sync.RWMutex
	subs map[topicKey]map[string]*subscription
}

type arenaShard struct {
	mu   sync.Mutex
	recs map[string]*subscription
}

// NewTopicIndex returns an empty index.
func NewTopicIndex() *TopicIndex {
	x := &TopicIndex{}
	for i := 0; i < shardCount; i++ {
		x.byConn[i].subs = map[string]map[string]*subscription{}
		x.byTopic[i].subs = map[topicKey]map[string]*subscription{}
		x.arena[i].recs = map[string]*subscription{}
	}
	return x
}

func (x *TopicIndex) connShard(connID string) *connShard { return &x.byConn[shardOf(connID)] }

func (x *TopicIndex) topicShard(k topicKey) *topicShard {
	return &x.byTopic[shardOf(k.topic+"\x00"+k.key)]
}

func (x *TopicIndex) arenaShard(id string) *arenaShard { return &x.arena[shardOf(id)] }

// Subscribe registers connID on (topic, key) and returns the new subscription id.
func (x *TopicIndex) Subscribe(topic, key, connID string, filter Filter) (string, error) {
	id := uuid.NewString()
	if err := x.SubscribeWithID(id, topic, key, connID, filter); err != nil {
		return "", err
	}
	return id, nil
}

// SubscribeWithID registers connID on (topic, key) under subID.
func (x *TopicIndex) SubscribeWithID(subID, topic, key, connID string, filter Filter) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if subID == "" {
		return fmt.Errorf("realtime: empty subscription id")
	}
	rec := &subscription{id: subID, topic: topicKey{topic, key}, connID: connID, filter: filter}

	cs := x.connShard(connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ts := x.topicShard(rec.topic)
	ts.mu.Lock()
	as := x.arenaShard(rec.id)
	as.mu.Lock()
	if _, dup := as.recs[rec.id]; dup {
		as.mu.Unlock()
		ts.mu.Unlock()
		return ErrDuplicateSubscription
	}

	if cs.subs[connID] == nil {
		cs.subs[connID] = map[string]*subscription{}
	}
	cs.subs[connID][rec.id] = rec
	if ts.subs[rec.topic] == nil {
		ts.subs[rec.topic] = map[string]*subscription{}
	}
	ts.subs[rec.topic][rec.id] = rec
	as.recs[rec.id] = rec

	as.mu.Unlock()
	ts.mu.Unlock()
	metrics.Subscriptions.Inc()
	return nil
}

// Unsubscribe removes one subscription. Unknown ids are a no-op.
func (x *TopicIndex) Unsubscribe(subID string) bool {
	as := x.arenaShard(subID)
	as.mu.Lock()
	rec, ok := as.recs[subID]
	as.mu.Unlock()
	if !ok {
		return false
	}

	cs := x.connShard(rec.connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	owned := cs.subs[rec.connID]
	if _, ok := owned[subID]; !ok {
		// lost a race with UnsubscribeAll or another Unsubscribe
		return false
	}
	delete(owned, subID)
	if len(owned) == 0 {
		delete(cs.subs, rec.connID)
	}
	x.dropLocked(rec)
	return true
}

// UnsubscribeAll removes every subscription owned by connID and returns how many there were.
// A publish that snapshots subscribers after this returns never sees connID.
func (x *TopicIndex) UnsubscribeAll(connID string) int {
	cs := x.connShard(connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	owned := cs.subs[connID]
	delete(cs.subs, connID)
	for _, rec := range owned {
		x.dropLocked(rec)
	}
	return len(owned)
}

// dropLocked removes rec from the topic index and the arena.
// The caller holds rec's connection shard.
func (x *TopicIndex) dropLocked(rec *subscription) {
	ts := x.topicShard(rec.topic)
	ts.mu.Lock()
	if m := ts.subs[rec.topic]; m != nil {
		delete(m, rec.id)
		if len(m) == 0 {
			delete(ts.subs, rec.topic)
		}
	}
	as := x.arenaShard(rec.id)
	as.mu.Lock()
	delete(as.recs, rec.id)
	as.mu.Unlock()
	ts.mu.Unlock()
	metrics.Subscriptions.Dec()
}

// SubscribersOf returns a snapshot of the subscribers of (topic, key).
func (x *TopicIndex) SubscribersOf(topic, key string) []Subscriber {
	k := topicKey{topic, key}
	ts := x.topicShard(k)
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	m := ts.subs[k]
	out := make([]Subscriber, 0, len(m))
	for _, rec := range m {
		out = append(out, Subscriber{SubscriptionID: rec.id, ConnID: rec.connID, Filter: rec.filter})
	}
	return out
}

// SubscriptionsOf lists the subscription ids owned by connID.
func (x *TopicIndex) SubscriptionsOf(connID string) []string {
	cs := x.connShard(connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, 0, len(cs.subs[connID]))
	for id := range cs.subs[connID] {
		out = append(out, id)
	}
	return out
}

// Len returns the total number of subscriptions.
func (x *TopicIndex) Len() int {
	n := 0
	for i := range x.arena {
		as := &x.arena[i]
		as.mu.Lock()
		n += len(as.recs)
		as.mu.Unlock()
	}
	return n
}
