// Package requestlog persists completed requests as append-only JSONL,
// keeps a bounded in-memory tail for fast reads, and fans realtime events
// out to subscribers (e.g. the /ws/realtime handler).
package requestlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"clproxy/internal/model"
	"clproxy/internal/obslog"
)

// maxBodyBytes bounds persisted content fields; anything longer is
// truncated and flagged.
const maxBodyBytes = 1 << 20 // 1 MiB

// defaultRotateSize is when the live segment is rotated to make room for
// archival (§4.8.2). Chosen, not spec-mandated: big enough that a typical
// deployment rotates a few times a day rather than every few requests.
const defaultRotateSize = 64 << 20 // 64 MiB

const writeQueueCapacity = 256

// Log is the per-family request log: one JSONL segment file, a ring of
// recent records, and a realtime event hub.
type Log struct {
	family string
	dir    string
	log    *obslog.Logger

	mu          sync.Mutex
	file        *os.File
	writer      *bufio.Writer
	currentPath string
	currentSize int64

	queue *writeQueue
	wg    sync.WaitGroup

	ringMu  sync.Mutex
	ring    []*model.RequestRecord
	ringCap int
	byID    map[string]*model.RequestRecord

	hub *hub
}

// Open creates (or appends to) the JSONL log for family under dir, sized to
// keep ringCap records in memory.
func Open(dir, family string, ringCap int) (*Log, error) {
	if ringCap <= 0 {
		ringCap = 50
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("requestlog: mkdir: %w", err)
	}
	l := &Log{
		family:  family,
		dir:     dir,
		log:     obslog.New("requestlog." + family),
		queue:   newWriteQueue(writeQueueCapacity),
		ringCap: ringCap,
		byID:    map[string]*model.RequestRecord{},
		hub:     newHub(),
	}
	if err := l.openSegment(); err != nil {
		return nil, err
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func (l *Log) segmentGlob() string {
	return filepath.Join(l.dir, l.family+"-*.jsonl")
}

func (l *Log) openSegment() error {
	name := fmt.Sprintf("%s-%s.jsonl", l.family, time.Now().UTC().Format("20060102150405"))
	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("requestlog: open segment: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.currentPath = path
	l.currentSize = fi.Size()
	return nil
}

func (l *Log) rotateIfNeeded(n int64) error {
	if l.currentSize+n < defaultRotateSize {
		return nil
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	return l.openSegment()
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for {
		rec, overflow, ok := l.queue.Pop()
		if !ok {
			l.mu.Lock()
			_ = l.writer.Flush()
			_ = l.file.Close()
			l.mu.Unlock()
			return
		}
		if overflow {
			rec.Overflow = true
		}
		l.writeLine(rec)
	}
}

func (l *Log) writeLine(rec *model.RequestRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		l.log.Warn("marshal failed", "request_id", rec.RequestID, "error", err)
		return
	}
	line := append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rotateIfNeeded(int64(len(line))); err != nil {
		l.log.Warn("rotate failed", "error", err)
	}
	if _, err := l.writer.Write(line); err != nil {
		l.log.Warn("write failed", "error", err)
		return
	}
	l.currentSize += int64(len(line))
	_ = l.writer.Flush()
}

// Started records a request entering the pipeline and broadcasts the
// corresponding realtime event. The record is not yet persisted to disk.
func (l *Log) Started(rec *model.RequestRecord) {
	l.hub.Started(rec)
}

// Progress reports a streamed response delta for an in-flight request,
// coalesced and rate-limited by the event hub.
func (l *Log) Progress(rec *model.RequestRecord, delta string) {
	l.hub.Progress(rec, delta)
}

// Finalize truncates oversized bodies, appends rec to the ring and the
// JSONL segment, and broadcasts a completed or failed event depending on
// rec.Status.
func (l *Log) Finalize(rec *model.RequestRecord) {
	truncateRecord(rec)

	l.ringMu.Lock()
	l.ring = append(l.ring, rec)
	if len(l.ring) > l.ringCap {
		evicted := l.ring[0]
		delete(l.byID, evicted.RequestID)
		l.ring = l.ring[1:]
	}
	l.byID[rec.RequestID] = rec
	l.ringMu.Unlock()

	l.queue.Push(rec)

	if rec.Status == model.StatusFailed {
		l.hub.Failed(rec)
	} else {
		l.hub.Completed(rec)
	}
}

func truncateRecord(rec *model.RequestRecord) {
	truncated := rec.Truncated
	if len(rec.OriginalBody) > maxBodyBytes {
		rec.OriginalBody = rec.OriginalBody[:maxBodyBytes]
		truncated = true
	}
	if len(rec.FilteredBody) > maxBodyBytes {
		rec.FilteredBody = rec.FilteredBody[:maxBodyBytes]
		truncated = true
	}
	if len(rec.ResponseContent) > maxBodyBytes {
		rec.ResponseContent = rec.ResponseContent[:maxBodyBytes]
		truncated = true
	}
	rec.Truncated = truncated
}

// List returns up to limit of the most recent records, newest first.
func (l *Log) List(limit int) []*model.RequestRecord {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	n := len(l.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*model.RequestRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.ring[n-1-i]
	}
	return out
}

// Get returns the record for requestID, if it is still in the ring.
func (l *Log) Get(requestID string) (*model.RequestRecord, bool) {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	rec, ok := l.byID[requestID]
	return rec, ok
}

// Subscribe registers a realtime listener; the caller receives an initial
// snapshot event, then started/progress/completed/failed as they happen.
func (l *Log) Subscribe() <-chan Event {
	return l.hub.Subscribe(l.List(l.ringCap))
}

// Clear wipes the ring and the on-disk segments, then opens a fresh, empty
// segment. Usage aggregates in the analytics store are not touched.
func (l *Log) Clear() error {
	l.ringMu.Lock()
	l.ring = nil
	l.byID = map[string]*model.RequestRecord{}
	l.ringMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	matches, err := filepath.Glob(l.segmentGlob())
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, m := range matches {
		_ = os.Remove(m)
	}
	return l.openSegment()
}

// CurrentSegmentPath returns the path of the segment currently being
// written to, so an external archival sweep can skip it: only a rotated,
// closed segment is safe to upload and delete.
func (l *Log) CurrentSegmentPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPath
}

// SegmentDir returns the directory segments live in, for an archival sweep
// to glob.
func (l *Log) SegmentDir() string { return l.dir }

// FamilyName returns the family name this log was opened for.
func (l *Log) FamilyName() string { return l.family }

// Close flushes and stops the background writer and event hub.
func (l *Log) Close() {
	l.queue.Close()
	l.wg.Wait()
	l.hub.Close()
}
