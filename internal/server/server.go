// Package server runs a level on a fixed tick and streams its entities to
// subscribers over websocket and QUIC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zeusync/qcserver/internal/config"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/level"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/observability/metrics"
	"github.com/zeusync/qcserver/internal/core/snapshot"
)

// MapLoader finds the definition of a map by name.
type MapLoader func(name string) (*level.MapDef, error)

// DirLoader loads <dir>/<name>.yaml.
func DirLoader(dir string) MapLoader {
	return func(name string) (*level.MapDef, error) {
		return level.LoadMapFile(filepath.Join(dir, name+".yaml"))
	}
}

// View is the last published tick, served as JSON.
type View struct {
	Tick     uint64                 `json:"tick"`
	Time     float32                `json:"time"`
	Map      string                 `json:"map"`
	Entities []snapshot.EntityState `json:"entities"`
}

type Option func(*Server)

func WithLogger(l log.Log) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithMapLoader(fn MapLoader) Option {
	return func(s *Server) { s.maps = fn }
}

// Server owns a level. Only the tick loop touches it after Run starts.
type Server struct {
	cfg   config.Server
	level *level.Level
	bus   bus.Bus
	maps  MapLoader
	hub   *Hub
	sub   bus.Subscription

	upgrader websocket.Upgrader
	view     atomic.Pointer[View]

	eventsMu sync.Mutex
	events   []bus.Event

	running atomic.Bool
	logger  log.Log
	metrics *metrics.Metrics
}

func New(cfg config.Server, lvl *level.Level, b bus.Bus, opts ...Option) (*Server, error) {
	if lvl == nil || b == nil {
		return nil, fmt.Errorf("%w: level and bus are required", ErrInvalidConfig)
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("%w: tick rate %d", ErrInvalidConfig, cfg.TickRate)
	}
	s := &Server{
		cfg:    cfg,
		level:  lvl,
		bus:    b,
		maps:   DirLoader("maps"),
		logger: log.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	base := s.logger
	s.logger = base.With(log.String("component", "server"))

	var limiter *rate.Limiter
	if cfg.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), max(cfg.AcceptBurst, 1))
	}
	s.hub = NewHub(cfg.MaxSubscribers, cfg.SendQueue, limiter, base, s.metrics)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	sub, err := b.Subscribe(s.collect)
	if err != nil {
		return nil, fmt.Errorf("subscribe to level events: %w", err)
	}
	s.sub = sub
	s.view.Store(&View{})
	return s, nil
}

func (s *Server) Hub() *Hub { return s.hub }

// View returns the last published tick.
func (s *Server) View() *View { return s.view.Load() }

// collect runs inside the level's publish, on the tick goroutine.
func (s *Server) collect(ev bus.Event) error {
	if ev.Kind == bus.KindPrecache {
		return nil
	}
	s.eventsMu.Lock()
	s.events = append(s.events, ev)
	s.eventsMu.Unlock()
	return nil
}

func (s *Server) drainEvents() []bus.Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// LoadMap loads name into the level and forces full frames for everyone.
// Events raised while loading go out with the next frame.
func (s *Server) LoadMap(name string) error {
	def, err := s.maps(name)
	if err != nil {
		return fmt.Errorf("load map %s: %w", name, err)
	}
	if err := s.level.Load(def); err != nil {
		return fmt.Errorf("load map %s: %w", name, err)
	}
	s.hub.ResyncAll()
	return nil
}

// Step advances the level by one tick, follows a pending level change and
// publishes the result.
func (s *Server) Step(frametime float32) error {
	stats := s.level.Tick(frametime)
	if stats.Failed > 0 {
		s.logger.Debug("Entities failed this tick",
			log.Uint64("frame", stats.Frame),
			log.Int("failed", stats.Failed))
	}

	if next := s.level.PendingChange(); next != "" {
		s.logger.Info("Changing level",
			log.String("from", s.level.MapName()),
			log.String("to", next))
		if err := s.LoadMap(next); err != nil {
			return err
		}
	}

	events := s.drainEvents()
	states := s.level.States()
	tick, now, mapName := s.level.Frame(), s.level.Time(), s.level.MapName()
	s.hub.Publish(tick, now, mapName, states, events)

	view := &View{Tick: tick, Time: now, Map: mapName, Entities: make([]snapshot.EntityState, len(states))}
	for i, st := range states {
		view.Entities[i] = snapshot.FromState(st)
	}
	s.view.Store(view)
	return nil
}

func (s *Server) tickLoop(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRate)
	frametime := float32(interval.Seconds())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Tick loop started", log.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Step(frametime); err != nil {
				return err
			}
		}
	}
}

// Run serves until ctx is done or a component fails. A level must already
// be loaded.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer s.running.Store(false)
	defer func() { _ = s.sub.Cancel() }()

	var (
		feed *quicFeed
		ln   *quic.Listener
	)
	if s.cfg.QUICAddr != "" {
		var err error
		if feed, err = newQUICFeed(s.cfg, s.hub, s.logger); err != nil {
			return err
		}
		if ln, err = feed.listen(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tickLoop(ctx) })

	httpSrv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		s.logger.Info("HTTP listening", log.String("addr", s.cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if feed != nil {
		g.Go(func() error { return feed.serve(ctx, ln) })
	}

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down")
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
