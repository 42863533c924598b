package retry

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/groundlink/missionwatch/pkg/client"
	"github.com/groundlink/missionwatch/pkg/eventlog"
	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/metrics"
	"github.com/groundlink/missionwatch/pkg/models"
	"github.com/groundlink/missionwatch/pkg/state"
)

// ErrBatchInFlight is returned when a retry batch is requested for a run
// that already has one outstanding.
var ErrBatchInFlight = errors.New("retry batch already in flight for run")

// DefaultConcurrency bounds simultaneous retry requests within one batch.
const DefaultConcurrency = 4

// Batcher executes retry plans against the engine, one batch per run at a
// time. Nodes are marked retrying optimistically as each request is issued;
// the next node_retrying/node_started stream event is the source of truth.
type Batcher struct {
	engine client.EngineClient
	store  *state.Store
	log    *eventlog.Log
	logger logging.Logger
	meter  *metrics.Collector

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewBatcher wires a batcher to the store it plans from and the engine it
// issues requests to. logger and meter may be nil-equivalent defaults.
func NewBatcher(engine client.EngineClient, store *state.Store, log *eventlog.Log, logger logging.Logger, meter *metrics.Collector) *Batcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Batcher{
		engine:   engine,
		store:    store,
		log:      log,
		logger:   logger,
		meter:    meter,
		inFlight: make(map[string]bool),
	}
}

// InFlight reports whether a batch is currently outstanding for the run.
func (b *Batcher) InFlight(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight[runID]
}

// ExecuteBatch plans root-failed nodes for the store's current run and
// issues exactly one retry request per planned node. A second batch against
// the same run is rejected with ErrBatchInFlight while one is outstanding.
// Returns the planned node ids.
func (b *Batcher) ExecuteBatch(ctx context.Context) ([]string, error) {
	runID := b.store.RunID()
	if runID == "" {
		return nil, errors.New("no run observed")
	}

	b.mu.Lock()
	if b.inFlight[runID] {
		b.mu.Unlock()
		return nil, ErrBatchInFlight
	}
	b.inFlight[runID] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.inFlight, runID)
		b.mu.Unlock()
	}()

	plan := Plan(b.store.Snapshot())
	if len(plan) == 0 {
		return nil, nil
	}

	b.meter.RecordRetryBatch()
	b.logger.Info("executing retry batch",
		logging.F("run_id", runID), logging.F("nodes", len(plan)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for _, nodeID := range plan {
		nodeID := nodeID

		// Optimistic transition before the request resolves; a rejected
		// request is indistinguishable from a slow accept until the stream
		// confirms either way.
		b.store.ApplyNodeStatus(nodeID, models.NodeStatusRetrying, state.Extras{})
		label := b.store.NodeLabel(nodeID)
		if b.log != nil {
			b.log.Appendf("INFO", label, "retry requested")
		}

		g.Go(func() error {
			b.meter.RecordRetryRequest()
			if err := b.engine.RetryNode(ctx, runID, nodeID); err != nil {
				b.meter.RecordRetryFailure()
				b.logger.Warn("retry request rejected",
					logging.F("run_id", runID), logging.F("node_id", nodeID), logging.F("error", err))
				if b.log != nil {
					b.log.Appendf("FAIL", label, "retry request rejected: "+err.Error())
				}
			}
			// Rejections are reported, never escalated: the stream decides
			// the node's real fate.
			return nil
		})
	}
	_ = g.Wait()
	return plan, nil
}
