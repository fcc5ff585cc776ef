package requestlog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clproxy/internal/model"
)

func newTestLog(t *testing.T, ringCap int) *Log {
	dir := t.TempDir()
	l, err := Open(dir, "claude", ringCap)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestFinalizeAppendsToRingAndFile(t *testing.T) {
	l := newTestLog(t, 10)

	rec := &model.RequestRecord{RequestID: "r1", Status: model.StatusCompleted}
	l.Finalize(rec)

	got, ok := l.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", got.RequestID)

	list := l.List(10)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].RequestID)
}

func TestRingEvictsOldest(t *testing.T) {
	l := newTestLog(t, 2)

	l.Finalize(&model.RequestRecord{RequestID: "r1", Status: model.StatusCompleted})
	l.Finalize(&model.RequestRecord{RequestID: "r2", Status: model.StatusCompleted})
	l.Finalize(&model.RequestRecord{RequestID: "r3", Status: model.StatusCompleted})

	_, ok := l.Get("r1")
	assert.False(t, ok)

	list := l.List(10)
	require.Len(t, list, 2)
	assert.Equal(t, "r3", list[0].RequestID) // newest first
	assert.Equal(t, "r2", list[1].RequestID)
}

func TestTruncateRecordFlagsOversizedBody(t *testing.T) {
	rec := &model.RequestRecord{
		RequestID:    "r1",
		ResponseContent: string(make([]byte, maxBodyBytes+10)),
	}
	truncateRecord(rec)
	assert.True(t, rec.Truncated)
	assert.Len(t, rec.ResponseContent, maxBodyBytes)
}

func TestSubscribeDeliversSnapshotThenEvents(t *testing.T) {
	l := newTestLog(t, 10)
	l.Finalize(&model.RequestRecord{RequestID: "r1", Status: model.StatusCompleted})

	ch := l.Subscribe()

	snap := <-ch
	assert.Equal(t, EventSnapshot, snap.Type)
	require.Len(t, snap.Records, 1)

	rec2 := &model.RequestRecord{RequestID: "r2", Status: model.StatusCompleted}
	l.Started(rec2)
	started := <-ch
	assert.Equal(t, EventStarted, started.Type)
	assert.Equal(t, "r2", started.Record.RequestID)

	l.Finalize(rec2)
	completed := <-ch
	assert.Equal(t, EventCompleted, completed.Type)
}

func TestSubscribeReceivesFailedEvent(t *testing.T) {
	l := newTestLog(t, 10)
	ch := l.Subscribe()
	<-ch // snapshot

	rec := &model.RequestRecord{RequestID: "r1", Status: model.StatusFailed}
	l.Finalize(rec)

	ev := <-ch
	assert.Equal(t, EventFailed, ev.Type)
}

func TestProgressCoalescesWithinTick(t *testing.T) {
	l := newTestLog(t, 10)
	ch := l.Subscribe()
	<-ch // snapshot

	rec := &model.RequestRecord{RequestID: "r1", Status: model.StatusStreaming}
	l.Progress(rec, "hello ")
	l.Progress(rec, "world")

	select {
	case ev := <-ch:
		assert.Equal(t, EventProgress, ev.Type)
		assert.Equal(t, "hello world", ev.Delta)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a coalesced progress event")
	}
}

func TestClearWipesRingAndSegments(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "claude", 10)
	require.NoError(t, err)
	defer l.Close()

	l.Finalize(&model.RequestRecord{RequestID: "r1", Status: model.StatusCompleted})
	require.NoError(t, l.Clear())

	assert.Empty(t, l.List(10))

	matches, err := filepath.Glob(filepath.Join(dir, "claude-*.jsonl"))
	require.NoError(t, err)
	// Clear() leaves exactly one fresh, empty segment behind.
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	assert.False(t, scanner.Scan())
}

func TestGetMissingReturnsFalse(t *testing.T) {
	l := newTestLog(t, 10)
	_, ok := l.Get("nope")
	assert.False(t, ok)
}
