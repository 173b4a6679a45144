package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	logpkg "github.com/Tyrowin/veilchat/internal/log"
	"github.com/Tyrowin/veilchat/internal/metrics"
	"github.com/Tyrowin/veilchat/internal/ratelimit"
	"github.com/Tyrowin/veilchat/internal/room"
	"github.com/Tyrowin/veilchat/internal/store"
)

// Server is one chat service instance: the HTTP listener, the WebSocket hub,
// the room coordinator and, when configured, the state file.
type Server struct {
	cfg Config
	log *logging.Logger

	hub       *Hub
	coord     *room.Coordinator
	analytics *metrics.Analytics
	origins   *originPolicy
	upgrader  websocket.Upgrader
	http      *http.Server

	db     *store.DB
	writer *store.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New assembles a Server from cfg. Persisted state, if any, is loaded before
// New returns; nothing runs until Start.
func New(cfg *Config, backend *logpkg.Backend) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	s := &Server{
		cfg:       sanitizeConfig(*cfg),
		log:       backend.GetLogger("server"),
		analytics: metrics.New(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.hub = NewHub(backend.GetLogger("hub"), s.analytics)

	var rec *store.Record
	if path := s.cfg.Persistence.Path; path != "" {
		storeLog := backend.GetLogger("store")
		db, err := store.Open(path, storeLog)
		if err != nil {
			return nil, err
		}
		loaded, err := db.Load()
		if err != nil {
			db.Close()
			return nil, err
		}
		s.db = db
		s.writer = store.NewWriter(db, s.cfg.Persistence.Debounce, storeLog)
		s.writer.OnFailure = s.analytics.PersistFailed
		rec = &loaded
	}

	opts := room.Options{
		GracePeriod:    s.cfg.Room.GracePeriod,
		BlockDuration:  s.cfg.Room.BlockDuration,
		ExpirySweep:    s.cfg.Room.ExpirySweep,
		BlocklistSweep: s.cfg.Room.BlocklistSweep,
		MaxCapacity:    s.cfg.Room.MaxCapacity,
		MaxDuration:    s.cfg.Room.MaxDuration,
		MaxImageSize:   s.cfg.MaxImageSize,
		Limiter:        ratelimit.New(s.cfg.RateLimit.Burst, s.cfg.RateLimit.Window),
		Recorder:       s.analytics,
		Logger:         backend.GetLogger("room"),
	}
	if s.writer != nil {
		opts.OnPersist = s.writer.Notify
	}
	s.coord = room.NewCoordinator(s.hub, opts)
	s.hub.OnLeave(s.coord.Leave)

	if rec != nil {
		s.coord.Restore(rec.Snapshot)
		s.analytics.Restore(rec.Totals)
	}

	s.http = CreateServer(s.cfg.Port, s.SetupRoutes())
	return s, nil
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Config returns the effective configuration.
func (s *Server) Config() Config { return s.cfg }

// Coordinator returns the room coordinator.
func (s *Server) Coordinator() *room.Coordinator { return s.coord }

// Analytics returns the analytics counters.
func (s *Server) Analytics() *metrics.Analytics { return s.analytics }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start launches the hub, the lifecycle sweeps and the state writer. It does
// not listen; see ListenAndServe.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		go s.hub.Run()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.coord.Run(s.ctx)
		}()

		if s.writer != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.writer.Run(s.ctx, s.record)
			}()
		}

		s.log.Notice("Hub started and ready to manage WebSocket connections")
	})
}

// ListenAndServe serves HTTP until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Noticef("Server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes every socket, stops the
// sweeps and writes the state file one last time.
func (s *Server) Shutdown(timeout time.Duration) error {
	var errs []error
	s.stopOnce.Do(func() {
		s.log.Notice("Shutting down HTTP server...")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warningf("HTTP server shutdown error: %v", err)
			errs = append(errs, err)
		}

		// Hub.Shutdown waits for Run, so make sure it was started.
		s.Start()
		if err := s.hub.Shutdown(timeout); err != nil {
			errs = append(errs, err)
		}

		s.cancel()
		s.wg.Wait()

		if s.db != nil {
			if err := s.db.Close(); err != nil {
				s.log.Warningf("Error closing state file: %v", err)
				errs = append(errs, err)
			}
		}
		s.log.Notice("Shutdown completed")
	})
	return errors.Join(errs...)
}

// record collects everything the state file holds.
func (s *Server) record() store.Record {
	return store.Record{
		Snapshot: s.coord.Snapshot(),
		Totals:   s.analytics.Totals(),
	}
}
