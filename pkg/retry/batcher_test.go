package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundlink/missionwatch/pkg/eventlog"
	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
)

// fakeEngine records retry requests and can fail or stall them.
type fakeEngine struct {
	mu      sync.Mutex
	retried []string
	fail    map[string]error
	block   chan struct{} // when non-nil, RetryNode waits on it
}

func (f *fakeEngine) GetMission(ctx context.Context, missionID string) (models.Mission, error) {
	return models.Mission{}, errors.New("not implemented")
}

func (f *fakeEngine) ListRuns(ctx context.Context) ([]models.Run, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) GetRun(ctx context.Context, runID string) (models.Run, error) {
	return models.Run{}, errors.New("not implemented")
}

func (f *fakeEngine) StartRun(ctx context.Context, missionID string) (models.Run, error) {
	return models.Run{}, errors.New("not implemented")
}

func (f *fakeEngine) RetryNode(ctx context.Context, runID, nodeID string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, nodeID)
	if err, ok := f.fail[nodeID]; ok {
		return err
	}
	return nil
}

func (f *fakeEngine) retriedNodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.retried...)
}

func TestExecuteBatchRetriesRootsOnly(t *testing.T) {
	store := buildStore(t,
		[]string{"a", "b", "c"},
		[]models.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
		map[string]models.NodeStatus{
			"a": models.NodeStatusFailed,
			"b": models.NodeStatusFailed,
			"c": models.NodeStatusFailed,
		})
	engine := &fakeEngine{}
	log := eventlog.New(16)
	b := NewBatcher(engine, store, log, logging.Discard(), nil)

	plan, err := b.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, plan)
	assert.Equal(t, []string{"a"}, engine.retriedNodes())

	// Optimistic transition happened regardless of server response timing.
	node, _ := store.Snapshot().Node("a")
	assert.Equal(t, models.NodeStatusRetrying, node.Status)

	// Dependents were not retried directly; the scheduler re-triggers them.
	node, _ = store.Snapshot().Node("b")
	assert.Equal(t, models.NodeStatusFailed, node.Status)
}

func TestExecuteBatchRejectedRequestLogsFailure(t *testing.T) {
	store := buildStore(t,
		[]string{"a"},
		nil,
		map[string]models.NodeStatus{"a": models.NodeStatusFailed})
	engine := &fakeEngine{fail: map[string]error{"a": errors.New("engine says no")}}
	log := eventlog.New(16)
	b := NewBatcher(engine, store, log, logging.Discard(), nil)

	plan, err := b.ExecuteBatch(context.Background())
	require.NoError(t, err, "a rejected request is reported, not escalated")
	assert.Equal(t, []string{"a"}, plan)

	fails := log.Filter(eventlog.Filter{Type: "FAIL"})
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Message, "engine says no")

	// The stream is the source of truth; the optimistic mark stands until
	// it says otherwise.
	node, _ := store.Snapshot().Node("a")
	assert.Equal(t, models.NodeStatusRetrying, node.Status)
}

func TestExecuteBatchSerializedPerRun(t *testing.T) {
	store := buildStore(t,
		[]string{"a"},
		nil,
		map[string]models.NodeStatus{"a": models.NodeStatusFailed})
	engine := &fakeEngine{block: make(chan struct{})}
	b := NewBatcher(engine, store, eventlog.New(16), logging.Discard(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.ExecuteBatch(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return b.InFlight("r1")
	}, time.Second, 5*time.Millisecond)

	_, err := b.ExecuteBatch(context.Background())
	assert.ErrorIs(t, err, ErrBatchInFlight)

	close(engine.block)
	<-done

	assert.False(t, b.InFlight("r1"))
}

func TestExecuteBatchNothingToRetry(t *testing.T) {
	store := buildStore(t, []string{"a"}, nil,
		map[string]models.NodeStatus{"a": models.NodeStatusCompleted})
	engine := &fakeEngine{}
	b := NewBatcher(engine, store, eventlog.New(16), logging.Discard(), nil)

	plan, err := b.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan)
	assert.Empty(t, engine.retriedNodes())
}
