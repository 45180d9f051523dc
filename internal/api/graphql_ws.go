package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"teamsync/internal/auth"
	"teamsync/internal/metrics"
	"teamsync/internal/realtime"
)

// GraphQL over WebSocket, graphql-transport-ws message set.

const (
	closeUnauthorized       = 4401
	closeTooManyInitRequest = 4429
	closeSubscriberExists   = 4409
	writeWait               = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"graphql-transport-ws"},
	CheckOrigin:  func(_ *http.Request) bool { return true },
}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables"`
}

type initPayload struct {
	AuthToken string `json:"authToken"`
}

// nextPayload is the body of a "next" frame for a subscription event.
type nextPayload struct {
	Data map[string]event `json:"data"`
}

type event struct {
	Typename    string          `json:"__typename"`
	OperationID string          `json:"operationId,omitempty"`
	MutatorID   string          `json:"mutatorId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// wsTransport adapts one gorilla connection to realtime.Transport. All frame
// writes go through mu; gorilla allows a single concurrent writer.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	// realtime subscription id -> client operation id and root field
	subs map[string]wsSub
	// realtime subscription ids the client completed
	completed map[string]struct{}
}

var errUnknownSubscription = errors.New("api: message for an untracked subscription")

type wsSub struct {
	clientID string
	field    string
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn, subs: map[string]wsSub{}, completed: map[string]struct{}{}}
}

func (t *wsTransport) write(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return realtime.ErrConnectionClosing
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) track(subID, clientID, field string) {
	t.mu.Lock()
	t.subs[subID] = wsSub{clientID: clientID, field: field}
	t.mu.Unlock()
}

// forget drops a subscription that never reached the index.
func (t *wsTransport) forget(subID string) {
	t.mu.Lock()
	delete(t.subs, subID)
	t.mu.Unlock()
}

// untrack forgets the subscription registered under clientID and returns its realtime id.
func (t *wsTransport) untrack(clientID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for subID, s := range t.subs {
		if s.clientID == clientID {
			delete(t.subs, subID)
			t.completed[subID] = struct{}{}
			return subID, true
		}
	}
	return "", false
}

func (t *wsTransport) hasClientID(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		if s.clientID == clientID {
			return true
		}
	}
	return false
}

// Send implements realtime.Transport.
func (t *wsTransport) Send(m realtime.Message) error {
	t.mu.Lock()
	sub, ok := t.subs[m.SubscriptionID]
	_, completed := t.completed[m.SubscriptionID]
	t.mu.Unlock()
	if !ok {
		if completed {
			return nil // completed by the client while the message was queued
		}
		return errUnknownSubscription
	}
	payload, err := json.Marshal(nextPayload{Data: map[string]event{sub.field: {
		Typename: m.PayloadType, OperationID: m.OperationID, MutatorID: m.MutatorID, Payload: m.Data,
	}}})
	if err != nil {
		return err
	}
	return t.write(wsMessage{Type: "next", ID: sub.clientID, Payload: payload})
}

// Close implements realtime.Transport.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	return t.conn.Close()
}

// GraphQLWSHandler handles /graphql/ws
func (s *Server) GraphQLWSHandler(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t := newWSTransport(wsConn)
	conn, err := s.Hub.Connect(t)
	if err != nil {
		_ = t.Close(websocket.CloseInternalServerErr, "register failed")
		return
	}
	connID := conn.ID()
	log := s.Logger.With(zap.String("conn", connID))
	log.Debug("socket connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(s.Config.Realtime.RateRPS), s.Config.Realtime.RateBurst)
	var principal *auth.Principal

	wsConn.SetReadLimit(1 << 20)

	exitCode := realtime.CloseNormal
	for {
		var msg wsMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				exitCode = ce.Code
			}
			break
		}
		if !limiter.Allow() {
			metrics.RateLimited.Inc()
			_ = t.write(errorFrame(msg.ID, errors.New("rate limit exceeded"), "RATE_LIMITED"))
			continue
		}
		if msg.Type != "connection_init" && msg.Type != "ping" && msg.Type != "pong" && principal == nil {
			_ = t.Close(closeUnauthorized, "Unauthorized")
			break
		}
		switch msg.Type {
		case "connection_init":
			if principal != nil {
				_ = t.Close(closeTooManyInitRequest, "Too many initialisation requests")
				break
			}
			var pl initPayload
			_ = json.Unmarshal(msg.Payload, &pl)
			p, err := s.Auth.Verify(pl.AuthToken)
			if err != nil {
				log.Info("socket auth failed", zap.Error(err))
				_ = t.Close(closeUnauthorized, "Unauthorized")
				break
			}
			// the disconnect hook reads principals once it sees the connection's principal
			s.principals.Store(connID, p)
			if err := conn.SetPrincipal(p.UserID); err != nil {
				s.principals.Delete(connID)
				_ = t.Close(websocket.CloseGoingAway, "connection closing")
				break
			}
			principal = &p
			conn.SetKeepalive(s.startKeepalive(t, s.Config.Realtime.KeepaliveInterval))
			_ = s.Hub.MarkAlive(connID)
			_ = t.write(wsMessage{Type: "connection_ack"})
		case "ping":
			_ = s.Hub.MarkAlive(connID)
			_ = t.write(wsMessage{Type: "pong"})
		case "pong":
			_ = s.Hub.MarkAlive(connID)
		case "subscribe":
			s.handleSubscribe(ctx, t, connID, *principal, msg)
		case "complete":
			if subID, ok := t.untrack(msg.ID); ok {
				s.Hub.Unsubscribe(subID)
			}
		default:
			log.Debug("ignoring message", zap.String("type", msg.Type))
		}
		if t.isClosed() {
			break
		}
	}
	s.Hub.OnDisconnect(connID, exitCode)
}

func (t *wsTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (s *Server) handleSubscribe(ctx context.Context, t *wsTransport, connID string, p auth.Principal, msg wsMessage) {
	var pl subscribePayload
	if err := json.Unmarshal(msg.Payload, &pl); err != nil {
		_ = t.write(errorFrame(msg.ID, errBadInput, ""))
		return
	}
	op, err := parseOperation(pl.Query)
	if err != nil {
		_ = t.write(errorFrame(msg.ID, err, ""))
		return
	}
	if t.hasClientID(msg.ID) {
		_ = t.Close(closeSubscriberExists, "Subscriber for "+msg.ID+" already exists")
		return
	}
	if op.Kind == "subscription" {
		topic, key, filter, err := subscriptionTarget(p, op.Field, pl.Variables)
		if err != nil {
			_ = t.write(errorFrame(msg.ID, err, ""))
			return
		}
		// tracked before the index sees it, so the first publish finds its client id
		subID := uuid.NewString()
		t.track(subID, msg.ID, op.Field)
		if err := s.Hub.SubscribeWithID(connID, subID, topic, key, filter); err != nil {
			t.forget(subID)
			_ = t.write(errorFrame(msg.ID, err, ""))
		}
		return
	}
	// queries and mutations run concurrently with the read loop
	go func() {
		rc, err := s.Hub.Begin(ctx, connID)
		if err != nil {
			return // connection is going away
		}
		defer rc.End()
		res, err := s.execute(rc.Op.Context(), rc, p, op, pl.Variables)
		if err != nil {
			_ = t.write(errorFrame(msg.ID, err, ""))
			return
		}
		payload, err := json.Marshal(map[string]any{"data": map[string]any{op.Field: res}})
		if err != nil {
			_ = t.write(errorFrame(msg.ID, err, ""))
			return
		}
		_ = t.write(wsMessage{Type: "next", ID: msg.ID, Payload: payload})
		_ = t.write(wsMessage{Type: "complete", ID: msg.ID})
	}()
}

// startKeepalive pings the client every interval until the returned stop is called.
func (s *Server) startKeepalive(t *wsTransport, interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := t.write(wsMessage{Type: "ping"}); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func errorFrame(id string, err error, code string) wsMessage {
	errs := toGQLErrors(err)
	if code != "" {
		errs[0].Extensions["code"] = code
	}
	payload, _ := json.Marshal(errs)
	return wsMessage{Type: "error", ID: id, Payload: payload}
}
