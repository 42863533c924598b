// Package session ties one observed mission run together: it owns the state
// store, transmission log, event ingestor and retry batcher for that run, so
// several sessions can coexist or be tested in isolation. Nothing a session
// holds survives Close; there is no durable state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/groundlink/missionwatch/pkg/client"
	"github.com/groundlink/missionwatch/pkg/eventlog"
	"github.com/groundlink/missionwatch/pkg/ingest"
	"github.com/groundlink/missionwatch/pkg/layout"
	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/metrics"
	"github.com/groundlink/missionwatch/pkg/retry"
	"github.com/groundlink/missionwatch/pkg/state"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Config wires a session's collaborators and policies.
type Config struct {
	// StreamURL is the websocket endpoint of the engine's event stream
	StreamURL string

	// Engine is the REST client used for hydration, reconciliation and
	// retry requests
	Engine client.EngineClient

	// LogCapacity bounds the transmission log (eventlog.DefaultCapacity
	// when zero)
	LogCapacity int

	// LayoutOptions controls layout spacing (defaults when zero)
	LayoutOptions layout.Options

	// ReconnectDelay is the fixed reconnect pause (3s when zero)
	ReconnectDelay time.Duration

	// ReconcileSchedule is an optional cron expression (robfig/cron syntax,
	// e.g. "@every 5m") forcing periodic REST resyncs on top of the
	// reconnect-driven ones
	ReconcileSchedule string

	// Logger defaults to the stderr logger
	Logger logging.Logger

	// Meter is optional
	Meter *metrics.Collector

	// Hooks observe ingest activity
	Hooks ingest.Hooks
}

// Session owns the live observation of one run.
type Session struct {
	store    *state.Store
	log      *eventlog.Log
	ingestor *ingest.Ingestor
	batcher  *retry.Batcher
	engine   client.EngineClient
	logger   logging.Logger
	cron     *cron.Cron

	mu     sync.Mutex
	closed bool
}

// New assembles a session. Call Start to hydrate and connect.
func New(cfg Config) (*Session, error) {
	if cfg.StreamURL == "" {
		return nil, errors.New("session: stream URL required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("session: engine client required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	store := state.New(cfg.LayoutOptions)
	log := eventlog.New(cfg.LogCapacity)

	s := &Session{
		store:  store,
		log:    log,
		engine: cfg.Engine,
		logger: cfg.Logger,
	}
	s.batcher = retry.NewBatcher(cfg.Engine, store, log, cfg.Logger, cfg.Meter)
	s.ingestor = ingest.New(cfg.StreamURL, cfg.Engine, store, log, ingest.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         cfg.Logger,
		Meter:          cfg.Meter,
		Hooks:          cfg.Hooks,
	})

	if cfg.ReconcileSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.ReconcileSchedule, s.ingestor.Reconcile); err != nil {
			return nil, fmt.Errorf("session: bad reconcile schedule %q: %w", cfg.ReconcileSchedule, err)
		}
	}
	return s, nil
}

// Start hydrates the run (and its mission definition) over REST when runID
// is non-empty, then connects the event stream. With an empty runID the
// session adopts whatever active run the stream's init frame announces.
func (s *Session) Start(ctx context.Context, runID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if runID != "" {
		run, err := s.engine.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("hydrate run: %w", err)
		}
		if run.MissionID != "" {
			if mission, err := s.engine.GetMission(ctx, run.MissionID); err == nil {
				s.store.SetMission(mission)
			} else {
				s.logger.Warn("mission definition unavailable",
					logging.F("mission_id", run.MissionID), logging.F("error", err))
			}
		}
		s.store.SetRun(run)
	}

	s.ingestor.Start()
	if s.cron != nil {
		s.cron.Start()
	}
	return nil
}

// Snapshot returns a consistent read-only copy for rendering.
func (s *Session) Snapshot() state.Snapshot {
	return s.store.Snapshot()
}

// Store exposes the underlying state store.
func (s *Session) Store() *state.Store {
	return s.store
}

// Log exposes the transmission log.
func (s *Session) Log() *eventlog.Log {
	return s.log
}

// PlanRetry returns the current root-failed frontier without issuing
// requests.
func (s *Session) PlanRetry() []string {
	return retry.Plan(s.store.Snapshot())
}

// RetryFailed plans and executes one retry batch for the observed run.
// A concurrent second batch for the same run is rejected.
func (s *Session) RetryFailed(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()
	return s.batcher.ExecuteBatch(ctx)
}

// Abort sends the abort command for the observed run over the stream.
func (s *Session) Abort() error {
	runID := s.store.RunID()
	if runID == "" {
		return errors.New("no run observed")
	}
	return s.ingestor.Abort(runID)
}

// Connected reports whether the stream is currently live.
func (s *Session) Connected() bool {
	return s.ingestor.Connected()
}

// Close tears the session down: transport closed, reconnect timer and cron
// cancelled. In-memory state is discarded with the session; late callbacks
// see the closed flag and do nothing. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	s.ingestor.Close()
}
