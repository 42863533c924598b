// Package ingest maintains the live connection to the mission event stream.
// It translates stream frames into state mutations and transmission log
// entries, reconnects silently on transport failure, and repairs missed
// state through a REST reconciliation fetch after every reconnect.
//
// All mutation runs on one serialized apply loop: the websocket read loop,
// the reconnect timer and reconciliation completions all re-enter through
// the same queue, so the state store sees a single logical writer.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/groundlink/missionwatch/pkg/client"
	"github.com/groundlink/missionwatch/pkg/eventlog"
	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/metrics"
	"github.com/groundlink/missionwatch/pkg/models"
	"github.com/groundlink/missionwatch/pkg/retry"
	"github.com/groundlink/missionwatch/pkg/state"
)

// DefaultReconnectDelay is the fixed pause before each reconnect attempt.
// There is no backoff and no retry ceiling: the stream is reacquired
// indefinitely.
const DefaultReconnectDelay = 3 * time.Second

const writeDeadline = 10 * time.Second

// ErrNotConnected is returned by Abort when no socket is live.
var ErrNotConnected = errors.New("event stream not connected")

// ErrClosed is returned by operations on a torn-down ingestor.
var ErrClosed = errors.New("ingestor closed")

// Hooks let an owner observe ingest activity without polling. All hooks are
// invoked on the serialized apply loop; they must not block.
type Hooks struct {
	// OnApplied fires after any state-store mutation
	OnApplied func()

	// OnRunConcluded fires once when the run reaches a terminal verdict,
	// whether reported by the engine or concluded locally
	OnRunConcluded func(outcome models.RunStatus)

	// OnFailureFrontier fires after a reconciliation with the refreshed
	// root-failed retry plan, so failure banners can be redrawn
	OnFailureFrontier func(plan []string)
}

// Ingestor owns one stream connection and its recovery policy.
type Ingestor struct {
	wsURL  string
	dialer *websocket.Dialer
	engine client.EngineClient
	store  *state.Store
	log    *eventlog.Log
	logger logging.Logger
	meter  *metrics.Collector
	hooks  Hooks

	reconnectDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	apply chan func()

	mu             sync.Mutex
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	connected      bool
	closed         bool
}

// Options configures an Ingestor beyond its required collaborators.
type Options struct {
	// ReconnectDelay overrides DefaultReconnectDelay when positive
	ReconnectDelay time.Duration

	// Logger defaults to the stderr logger
	Logger logging.Logger

	// Meter is optional
	Meter *metrics.Collector

	// Hooks are optional
	Hooks Hooks
}

// New creates an ingestor for the stream at wsURL, mutating store and log
// and reconciling through engine. Call Start to begin.
func New(wsURL string, engine client.EngineClient, store *state.Store, log *eventlog.Log, opts Options) *Ingestor {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		wsURL:          wsURL,
		dialer:         websocket.DefaultDialer,
		engine:         engine,
		store:          store,
		log:            log,
		logger:         opts.Logger,
		meter:          opts.Meter,
		hooks:          opts.Hooks,
		reconnectDelay: opts.ReconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
		apply:          make(chan func(), 256),
	}
}

// Start launches the apply loop and the first connection attempt.
func (i *Ingestor) Start() {
	go i.applyLoop()
	go i.connect()
}

// applyLoop serializes every mutation until teardown.
func (i *Ingestor) applyLoop() {
	for {
		select {
		case fn := <-i.apply:
			fn()
		case <-i.ctx.Done():
			return
		}
	}
}

// post queues fn on the apply loop. Dropped silently after teardown.
func (i *Ingestor) post(fn func()) {
	select {
	case i.apply <- fn:
	case <-i.ctx.Done():
	}
}

// connect dials the stream once. On failure the reconnect timer is armed;
// on success a reconciliation fetch repairs anything missed while offline.
func (i *Ingestor) connect() {
	i.mu.Lock()
	if i.closed || i.connected {
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	conn, _, err := i.dialer.DialContext(i.ctx, i.wsURL, nil)
	if err != nil {
		if i.ctx.Err() != nil {
			return
		}
		i.logger.Warn("stream dial failed", logging.F("url", i.wsURL), logging.F("error", err))
		i.post(func() {
			i.log.Appendf("WARN", "", "connection failed, retrying")
		})
		i.scheduleReconnect()
		return
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		conn.Close()
		return
	}
	i.conn = conn
	i.connected = true
	i.mu.Unlock()

	i.logger.Info("stream connected", logging.F("url", i.wsURL))
	i.post(func() {
		i.log.Appendf("INFO", "", "uplink established")
	})

	// A dropped connection only gets a best-effort replay from the engine,
	// so the REST fetch is the correctness backstop, not an optimization.
	if runID := i.store.RunID(); runID != "" {
		i.reconcile(runID)
	}

	go i.readLoop(conn)
}

// readLoop consumes frames until the transport fails, then hands recovery to
// the reconnect timer. Malformed frames are dropped, never fatal.
func (i *Ingestor) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			i.handleDisconnect(conn, err)
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			i.meter.RecordEventDropped()
			i.logger.Debug("dropping malformed frame", logging.F("error", err))
			continue
		}
		i.post(func() { i.handleEvent(ev) })
	}
}

// handleDisconnect tears down the failed socket and arms the reconnect
// timer, unless the ingestor is being closed.
func (i *Ingestor) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	i.mu.Lock()
	if i.conn == conn {
		i.conn = nil
		i.connected = false
	}
	closed := i.closed
	i.mu.Unlock()

	if closed || i.ctx.Err() != nil {
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		i.logger.Warn("stream dropped", logging.F("error", err))
	}
	i.post(func() {
		i.log.Appendf("WARN", "", "uplink lost, reconnecting")
	})
	i.scheduleReconnect()
}

// scheduleReconnect arms a fixed-delay timer. Attempts are unbounded.
func (i *Ingestor) scheduleReconnect() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if i.reconnectTimer != nil {
		i.reconnectTimer.Stop()
	}
	i.reconnectTimer = time.AfterFunc(i.reconnectDelay, func() {
		i.mu.Lock()
		closed := i.closed
		i.mu.Unlock()
		if closed {
			return
		}
		i.meter.RecordReconnect()
		i.connect()
	})
}

// reconcile fetches the run (and its mission definition when we lack one)
// and bulk-loads both into the store on the apply loop. On fetch failure the
// prior state is left untouched and a FAIL entry is logged.
func (i *Ingestor) reconcile(runID string) {
	go func() {
		ctx, cancelFn := context.WithTimeout(i.ctx, client.DefaultTimeout)
		defer cancelFn()

		run, err := i.engine.GetRun(ctx, runID)
		if err != nil {
			if i.ctx.Err() != nil {
				return
			}
			i.logger.Warn("reconciliation fetch failed",
				logging.F("run_id", runID), logging.F("error", err))
			i.post(func() {
				i.log.Appendf("FAIL", "", "state resync failed: "+err.Error())
			})
			return
		}

		var mission *models.Mission
		if run.MissionID != "" {
			if m, err := i.engine.GetMission(ctx, run.MissionID); err == nil {
				mission = &m
			}
			// A missing definition is tolerated: nodes self-heal lazily.
		}

		i.post(func() {
			i.meter.RecordReconciliation()
			wasTerminal := i.store.RunStatus().Terminal()
			if mission != nil {
				i.store.SetMission(*mission)
			}
			i.store.SetRun(run)
			i.meter.SetNodesTracked(i.store.NodeCount())
			i.log.Appendf("INFO", "", "state resynced from engine")

			// The fetch itself can be what reveals the verdict, either
			// through terminal node states or a terminal run status.
			if outcome, concluded := i.store.ConcludeIfDone(); concluded {
				i.announceConclusion(outcome)
			} else if status := i.store.RunStatus(); status.Terminal() && !wasTerminal {
				i.announceConclusion(status)
			}
			if i.hooks.OnFailureFrontier != nil {
				i.hooks.OnFailureFrontier(retry.Plan(i.store.Snapshot()))
			}
			i.notifyApplied()
		})
	}()
}

// Reconcile forces a REST resync of the observed run outside the reconnect
// path, e.g. on a schedule. No-op when no run is observed.
func (i *Ingestor) Reconcile() {
	if runID := i.store.RunID(); runID != "" {
		i.reconcile(runID)
	}
}

// Abort sends the abort command frame for a run over the live socket.
func (i *Ingestor) Abort(runID string) error {
	i.mu.Lock()
	conn := i.conn
	closed := i.closed
	i.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(models.AbortCommand(runID)); err != nil {
		return err
	}
	return nil
}

// Connected reports whether a socket is currently live.
func (i *Ingestor) Connected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.connected
}

// Close tears the ingestor down: the socket is closed, the reconnect timer
// cancelled, and every pending continuation sees the cancelled context so no
// late callback mutates a dead instance. Safe to call more than once.
func (i *Ingestor) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	if i.reconnectTimer != nil {
		i.reconnectTimer.Stop()
		i.reconnectTimer = nil
	}
	conn := i.conn
	i.conn = nil
	i.connected = false
	i.mu.Unlock()

	i.cancel()
	if conn != nil {
		conn.Close()
	}
}

func (i *Ingestor) notifyApplied() {
	if i.hooks.OnApplied != nil {
		i.hooks.OnApplied()
	}
}

func (i *Ingestor) announceConclusion(outcome models.RunStatus) {
	i.log.Appendf("RUN", "", "run concluded: "+string(outcome))
	if i.hooks.OnRunConcluded != nil {
		i.hooks.OnRunConcluded(outcome)
	}
}
