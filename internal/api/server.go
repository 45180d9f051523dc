package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"teamsync/internal/auth"
	"teamsync/internal/broker"
	"teamsync/internal/config"
	"teamsync/internal/metrics"
	"teamsync/internal/realtime"
	"teamsync/internal/store"
)

type Server struct {
	Store  store.Store
	Hub    *realtime.Hub
	Auth   *auth.Verifier
	Config config.Config
	Logger *zap.Logger
	NodeID string

	relay   *broker.RedisRelay // nil when running single-node
	sweeper *realtime.Sweeper

	// connID -> auth.Principal, set on connection_init, consumed by the disconnect hook
	principals sync.Map
}

// NewServer creates a Server. If DatabaseURL is unset, uses the seeded in-memory store;
// if RedisURL is set, publishes are relayed to other nodes.
func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Auth:   auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.Issuer),
		Config: cfg,
		Logger: logger,
		NodeID: uuid.NewString(),
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s.Store = store.NewDemoMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(context.Background()); err != nil {
				_ = sp.Close()
				return nil, err
			}
		}
		s.Store = sp
	}
	opts := realtime.Options{
		OutboxSize:   cfg.Realtime.OutboxSize,
		OnDisconnect: s.disconnectSocket,
		Logger:       logger.Named("realtime"),
	}
	if cfg.RedisURL != "" {
		rb, err := broker.NewRedisRelay(cfg.RedisURL, s.NodeID, cfg.Realtime.RelayPrefix, logger.Named("relay"))
		if err != nil {
			return nil, err
		}
		s.relay = rb
		opts.Relay = rb
	}
	s.Hub = realtime.NewHub(opts)
	s.sweeper = realtime.NewSweeper(s.Hub.Registry, s.Hub.Reaper, cfg.Realtime.KeepaliveInterval, cfg.Realtime.KeepaliveTimeout)
	return s, nil
}

// Start runs the liveness sweeper and, when configured, the relay forwarder
// and the cross-node relay consumer. All stop when ctx ends.
func (s *Server) Start(ctx context.Context) {
	s.sweeper.Start()
	go func() {
		<-ctx.Done()
		close(s.sweeper.Stop)
	}()
	if s.relay != nil {
		go s.Hub.Publisher.Run(ctx)
		go func() {
			err := s.relay.Run(ctx, func(env realtime.Envelope) { s.Hub.Publisher.Deliver(env) })
			if err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error("relay stopped", zap.Error(err))
			}
		}()
	}
}

// Close releases the store and relay connections.
func (s *Server) Close() error {
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Routes returns the service's HTTP handler tree.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", s.GraphQLHTTPHandler)
	mux.HandleFunc("/graphql/ws", s.GraphQLWSHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/vars", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	if s.relay != nil {
		if err := s.relay.Ping(r.Context()); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Relay unavailable", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
