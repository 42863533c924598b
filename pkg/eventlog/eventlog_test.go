package eventlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundlink/missionwatch/pkg/models"
)

func TestLogEviction(t *testing.T) {
	const capacity = 5
	log := New(capacity)

	for i := 1; i <= capacity+1; i++ {
		log.Appendf("INFO", "", fmt.Sprintf("entry %d", i))
	}

	entries := log.Entries()
	require.Len(t, entries, capacity)
	// The oldest survivor is the 2nd entry ever appended.
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, fmt.Sprintf("entry %d", capacity+1), entries[capacity-1].Message)
}

func TestLogEvictionKeepsOrder(t *testing.T) {
	log := New(3)
	for i := 1; i <= 10; i++ {
		log.Appendf("INFO", "", fmt.Sprintf("entry %d", i))
	}

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 8", entries[0].Message)
	assert.Equal(t, "entry 9", entries[1].Message)
	assert.Equal(t, "entry 10", entries[2].Message)
	assert.Equal(t, uint64(10), log.TotalAppended())
}

func TestFilterIdentityLaw(t *testing.T) {
	log := New(10)
	log.Appendf("INFO", "alpha", "first")
	log.Appendf("FAIL", "bravo", "second")
	log.Appendf("COMM", "", "third")

	all := log.Filter(Filter{Type: FilterAll, NodeLabel: FilterAll, SearchText: ""})
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Message)
	assert.Equal(t, "second", all[1].Message)
	assert.Equal(t, "third", all[2].Message)
}

func TestFilterByType(t *testing.T) {
	log := New(10)
	log.Appendf("INFO", "alpha", "one")
	log.Appendf("FAIL", "alpha", "two")
	log.Appendf("FAIL", "bravo", "three")

	fails := log.Filter(Filter{Type: "FAIL", NodeLabel: FilterAll})
	require.Len(t, fails, 2)
	assert.Equal(t, "two", fails[0].Message)
	assert.Equal(t, "three", fails[1].Message)
}

func TestFilterByNodeAndSearch(t *testing.T) {
	log := New(10)
	log.Appendf("INFO", "collector", "sweep started")
	log.Appendf("INFO", "collector", "sweep finished")
	log.Appendf("INFO", "uplink", "sweep finished")

	got := log.Filter(Filter{Type: FilterAll, NodeLabel: "collector", SearchText: "FINISHED"})
	require.Len(t, got, 1)
	assert.Equal(t, "sweep finished", got[0].Message)
}

func TestFilterSearchMatchesNodeLabel(t *testing.T) {
	log := New(10)
	log.Appendf("INFO", "collector-7", "ok")
	log.Appendf("INFO", "uplink", "ok")

	got := log.Filter(Filter{SearchText: "collector"})
	require.Len(t, got, 1)
	assert.Equal(t, "collector-7", got[0].NodeLabel)
}

func TestFilterAllOfSemantics(t *testing.T) {
	log := New(10)
	log.Appendf("FAIL", "alpha", "disk full")
	log.Appendf("FAIL", "bravo", "disk full")
	log.Appendf("INFO", "alpha", "disk full")

	got := log.Filter(Filter{Type: "FAIL", NodeLabel: "alpha", SearchText: "disk"})
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].NodeLabel)
}

func TestAppendStampsZeroTimestamp(t *testing.T) {
	log := New(4)
	log.Append(models.LogEntry{Type: "INFO", Message: "no timestamp"})
	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestScrollStatePinContract(t *testing.T) {
	s := NewScrollState(40)
	assert.True(t, s.Pinned(), "starts pinned")

	// Within the threshold of the bottom: still pinned.
	s.Observe(960, 1000)
	assert.True(t, s.Pinned())

	// Manual scroll away unpins.
	s.Observe(500, 1000)
	assert.False(t, s.Pinned())

	// Staying away keeps it unpinned even as max grows.
	s.Observe(500, 2000)
	assert.False(t, s.Pinned())

	// Scrolling back to the bottom re-pins.
	s.Observe(1980, 2000)
	assert.True(t, s.Pinned())

	// Explicit jump-to-bottom re-pins regardless of last offset.
	s.Observe(0, 2000)
	require.False(t, s.Pinned())
	s.ScrollToBottom()
	assert.True(t, s.Pinned())
}
