package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clproxy/internal/model"
	"clproxy/internal/obslog"
	"clproxy/internal/queue"
	"clproxy/internal/requestlog"
)

// Job is one unit of analytics work: the usage delta from a single
// completed or failed request, enqueued by the pipeline's Close step.
type Job struct {
	Family      string             `json:"family"`
	Channel     string             `json:"channel"`
	WindowStart int64              `json:"window_start"`
	Usage       model.UsageMetrics `json:"usage"`
}

// EnqueueFromRecord builds a Job from a finalized RequestRecord and pushes
// it onto q. Errors are the caller's to log; analytics is never allowed to
// block or fail a request.
func EnqueueFromRecord(ctx context.Context, q queue.Queue, rec *model.RequestRecord) error {
	job := Job{
		Family:      rec.Service,
		Channel:     rec.Channel,
		WindowStart: HourBucket(rec.TimestampStart),
		Usage:       rec.Usage,
	}
	return q.Enqueue(ctx, job)
}

// BridgeRequestLog subscribes to log's realtime hub and enqueues a Job for
// every completed or failed request, until ctx is canceled. This is the
// whole of analytics' coupling to the request log: it never reads the log's
// ring or JSONL segments directly, only the events the pipeline's Close
// step already produces.
func BridgeRequestLog(ctx context.Context, log *requestlog.Log, q queue.Queue) {
	events := log.Subscribe()
	bridgeLog := obslog.New("analytics.bridge")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type != requestlog.EventCompleted && ev.Type != requestlog.EventFailed {
					continue
				}
				if ev.Record == nil {
					continue
				}
				if err := EnqueueFromRecord(ctx, q, ev.Record); err != nil {
					bridgeLog.Warn("enqueue analytics job failed", "request_id", ev.Record.RequestID, "error", err)
				}
			}
		}
	}()
}

// Worker drains a queue.Queue of Jobs in batches and upserts them into the
// analytics Store, grouping same-bucket jobs together before writing.
type Worker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	store       *Store
	config      *queue.Config
	log         *obslog.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a Worker. Upserts are not retried: a bucket whose upsert
// fails is logged and handed to dlq, or simply dropped when dlq is nil.
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, store *Store, config *queue.Config) *Worker {
	if config == nil {
		config = queue.DefaultConfig("analytics")
	}
	return &Worker{
		queue:       q,
		dlq:         dlq,
		store:       store,
		config:      config,
		log:         obslog.New("analytics"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start launches the worker's drain loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to finish its current batch and exit, blocking
// until it has.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.stoppedChan
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		w.log.Error("dequeue failed", "error", err)
		time.Sleep(time.Second)
		return
	}
	if len(items) == 0 {
		return
	}

	jobs := make([]Job, 0, len(items))
	for _, item := range items {
		job, err := decodeJob(item)
		if err != nil {
			w.log.Warn("dropping malformed analytics job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return
	}

	for bucket, agg := range mergeBuckets(jobs) {
		if err := w.store.UpsertHourly(ctx, agg); err != nil {
			w.log.Error("upsert failed, routing to dead-letter queue", "bucket", bucket, "error", err)
			if w.dlq != nil {
				if derr := w.dlq.Add(ctx, agg, err); derr != nil {
					w.log.Error("dead-letter add failed", "error", derr)
				}
			}
		}
	}
}

func decodeJob(item any) (Job, error) {
	switch v := item.(type) {
	case Job:
		return v, nil
	case *Job:
		return *v, nil
	case []byte:
		var job Job
		return job, json.Unmarshal(v, &job)
	case json.RawMessage:
		var job Job
		return job, json.Unmarshal(v, &job)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return Job{}, fmt.Errorf("analytics: marshal queue item: %w", err)
		}
		var job Job
		return job, json.Unmarshal(data, &job)
	}
}

// mergeBuckets sums jobs that land in the same (family, channel,
// window_start) bucket into a single aggregate, so a batch of many small
// per-request deltas becomes one write per bucket.
func mergeBuckets(jobs []Job) map[string]model.UsageAggregate {
	out := map[string]model.UsageAggregate{}
	for _, j := range jobs {
		key := fmt.Sprintf("%s/%s/%d", j.Family, j.Channel, j.WindowStart)
		agg, ok := out[key]
		if !ok {
			agg = model.UsageAggregate{Family: j.Family, Channel: j.Channel, WindowStart: j.WindowStart}
		}
		agg.Input += j.Usage.Input
		agg.CachedCreate += j.Usage.CachedCreate
		agg.CachedRead += j.Usage.CachedRead
		agg.Output += j.Usage.Output
		agg.Reasoning += j.Usage.Reasoning
		agg.Total += j.Usage.Total
		agg.RequestCount++
		out[key] = agg
	}
	return out
}
