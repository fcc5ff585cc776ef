package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"clproxy/internal/obslog"
)

// sweepInterval is how often the worker checks for rotated segments ready
// to ship. Chosen as a reasonable default for a single-instance proxy, not
// mandated by anything operator-facing.
const sweepInterval = 5 * time.Minute

// segmentLog is the subset of *requestlog.Log the worker needs, small
// enough to fake in tests without standing up a real log.
type segmentLog interface {
	FamilyName() string
	SegmentDir() string
	CurrentSegmentPath() string
}

// uploader is satisfied by *Sink; a narrow seam so tests can substitute a
// fake without touching AWS.
type uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// Worker periodically uploads rotated, closed segments for a set of
// per-family logs and removes them locally once the upload is verified.
type Worker struct {
	sink     uploader
	logs     []segmentLog
	log      *obslog.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker builds a Worker over logs, one entry per family.
func NewWorker(sink uploader, logs ...segmentLog) *Worker {
	return &Worker{
		sink:     sink,
		logs:     logs,
		log:      obslog.New("archive.worker"),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the sweep loop to exit and waits for it to do so.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneChan)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce uploads every rotated segment across all tracked logs. It is
// exported so a caller (or a test) can drive a sweep deterministically
// instead of waiting for the ticker.
func (w *Worker) SweepOnce(ctx context.Context) {
	for _, l := range w.logs {
		if err := w.sweepFamily(ctx, l); err != nil {
			w.log.Error("sweep failed", "family", l.FamilyName(), "error", err)
		}
	}
}

func (w *Worker) sweepFamily(ctx context.Context, l segmentLog) error {
	pattern := filepath.Join(l.SegmentDir(), l.FamilyName()+"-*.jsonl")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("archive: glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	current := l.CurrentSegmentPath()

	for _, path := range matches {
		if path == current {
			continue // still being written to
		}
		if err := w.uploadAndRemove(ctx, l.FamilyName(), path); err != nil {
			w.log.Error("segment upload failed, will retry next sweep", "path", path, "error", err)
		}
	}
	return nil
}

func (w *Worker) uploadAndRemove(ctx context.Context, family, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("archive: read segment: %w", err)
	}

	key := segmentKey(family, filepath.Base(path))
	if err := w.sink.Upload(ctx, key, body); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		w.log.Warn("upload verified but local segment removal failed", "path", path, "error", err)
		return nil
	}
	w.log.Info("archived segment", "path", path, "key", key, "bytes", len(body))
	return nil
}

// segmentKey builds the s3://<bucket>/<family>/<date>/<segment>.jsonl key.
// The segment filename already carries a YYYYMMDDhhmmss stamp; the date
// prefix is taken from the first 8 digits of it.
func segmentKey(family, filename string) string {
	date := "unknown"
	stamp := strings.TrimSuffix(strings.TrimPrefix(filename, family+"-"), ".jsonl")
	if len(stamp) >= 8 {
		date = stamp[:8]
	}
	return fmt.Sprintf("%s/%s/%s", family, date, filename)
}
