// Package pipeline wires configstore, filter, ratelimit, upstream, usage,
// sse and family into the single per-family request state machine: Accept,
// Transform, Select, Admit, Forward, Stream, Close.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"clproxy/internal/configstore"
	"clproxy/internal/errs"
	"clproxy/internal/family"
	"clproxy/internal/filter"
	"clproxy/internal/model"
	"clproxy/internal/obslog"
	"clproxy/internal/ratelimit"
	"clproxy/internal/requestlog"
	"clproxy/internal/sse"
	"clproxy/internal/upstream"
	"clproxy/internal/usage"
)

const (
	connectTimeout     = 30 * time.Second
	captureBufferBytes = 1 << 20
)

// Pipeline runs one family's requests end to end. It owns no HTTP routing;
// ServeHTTP is the single entry point a family's cmd wires to its mux.
type Pipeline struct {
	name    family.Name
	adapter family.Adapter
	store   *configstore.Store
	limiter ratelimit.Limiter
	reqlog  *requestlog.Log
	tracker *upstream.Tracker
	client  *http.Client
	log     *obslog.Logger
}

// New builds a Pipeline. onExcluded is invoked synchronously whenever a
// config crosses its failure threshold, so a caller can fan that out to the
// realtime event hub.
func New(name family.Name, adapter family.Adapter, store *configstore.Store, limiter ratelimit.Limiter, reqlog *requestlog.Log, onExcluded func(upstream.FailureEvent)) *Pipeline {
	return &Pipeline{
		name:    name,
		adapter: adapter,
		store:   store,
		limiter: limiter,
		reqlog:  reqlog,
		tracker: upstream.NewTracker(onExcluded),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
				// Idle time is intentionally unbounded: an upstream
				// streaming response can legitimately sit open for
				// minutes between deltas.
				IdleConnTimeout: 0,
			},
		},
		log: obslog.New("pipeline." + string(name)),
	}
}

// docs bundles the configuration documents one request needs, loaded fresh
// on every call so an operator edit is picked up immediately.
type docs struct {
	configs model.FamilyDocument
	policy  *model.LoadBalancePolicy
	routes  *model.RouteTable
	filters *filter.Engine
	system  *model.SystemSettings
}

func (p *Pipeline) loadDocs() (*docs, error) {
	var configs model.FamilyDocument
	if err := p.store.Get(string(p.name), &configs); err != nil {
		configs = model.FamilyDocument{}
	}

	policy := &model.LoadBalancePolicy{}
	if err := p.store.Get("loadbalance", policy); err != nil {
		policy.Mode = model.LBModeActiveFirst
	}

	routes := &model.RouteTable{}
	if err := p.store.Get("routing", routes); err != nil {
		routes.Mode = model.RouteModeDefault
	}

	var rules model.FilterDocument
	_ = p.store.Get("filter", &rules)

	system := &model.SystemSettings{}
	_ = p.store.Get("system", system)

	return &docs{configs: configs, policy: policy, routes: routes, filters: filter.New(rules), system: system}, nil
}

// ServeHTTP implements the full Accept->Transform->Select->Admit->Forward->
// Stream->Close cycle for one client request.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &model.RequestRecord{
		RequestID:      uuid.NewString(),
		TimestampStart: time.Now().UTC(),
		Service:        string(p.name),
		Method:         r.Method,
		Path:           r.URL.Path,
		Status:         model.StatusPending,
	}
	p.reqlog.Started(rec)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.fail(w, rec, errs.New(errs.KindBadRequest, "reading request body", err))
		return
	}
	rec.OriginalBody = base64.StdEncoding.EncodeToString(body)

	d, _ := p.loadDocs()

	canonical, _ := p.adapter.NormalizePath(r.URL.Path)
	fromAlternate := canonical != r.URL.Path

	requestedModel, clientWantsStream := peekModelAndStream(body)
	rec.ModelOriginal = requestedModel

	finalModel := requestedModel
	if target, ok := d.routes.ResolveModel(string(p.name), requestedModel); ok {
		finalModel = target
	}
	modelRewritten, err := setModelField(body, finalModel)
	if err != nil {
		p.fail(w, rec, errs.New(errs.KindBadRequest, "invalid request body", err))
		return
	}
	rec.ModelFinal = finalModel

	out, err := p.adapter.TransformBody(family.TransformInput{
		Body:              modelRewritten,
		FromAlternatePath: fromAlternate,
		ClientWantsStream: clientWantsStream,
		Settings:          d.system,
	})
	if err != nil {
		p.fail(w, rec, errs.New(errs.KindBadRequest, "transforming request body", err))
		return
	}

	// Filtering runs after model rewriting and family backfill so a rule can
	// target a rewritten model name, and FilteredBody captures exactly what
	// gets forwarded.
	out.Body = d.filters.Apply(out.Body)
	rec.FilteredBody = base64.StdEncoding.EncodeToString(out.Body)

	cfg, err := upstream.Select(upstream.SelectInput{
		Family:         string(p.name),
		Configs:        d.configs,
		Policy:         d.policy,
		RouteTable:     d.routes,
		RequestedModel: finalModel,
	})
	if err != nil {
		p.fail(w, rec, err)
		return
	}
	rec.Channel = cfg.Name

	rpmLimit := 0
	if cfg.RPMLimit != nil {
		rpmLimit = *cfg.RPMLimit
	}
	key := ratelimit.Key(string(p.name), cfg.Name)
	if err := p.limiter.Wait(r.Context(), key, rpmLimit); err != nil {
		p.fail(w, rec, errs.New(errs.KindRateWaitCancel, "rate limit wait canceled", err))
		return
	}

	effectiveStream := clientWantsStream
	if out.ForceStream != nil {
		effectiveStream = *out.ForceStream
	}
	if cfg.Streaming != nil {
		effectiveStream = *cfg.Streaming
	}

	upstreamResp, ferr := p.forward(r.Context(), cfg, canonical, out.Body, effectiveStream)
	if ferr != nil {
		p.recordOutcome(d.policy, cfg.Name, upstream.ClassifyOutcome(ferr))
		p.fail(w, rec, ferr)
		return
	}
	defer upstreamResp.Body.Close()

	var httpOutcomeErr error
	if upstreamResp.StatusCode >= 500 {
		httpOutcomeErr = errs.WithStatus(errs.KindUpstreamHTTP, upstreamResp.StatusCode, "upstream returned a server error", nil)
	}
	p.recordOutcome(d.policy, cfg.Name, upstream.ClassifyOutcome(httpOutcomeErr))

	rec.StatusCode = upstreamResp.StatusCode
	rec.Status = model.StatusStreaming

	capture := sse.NewCaptureBuffer(captureBufferBytes)
	var usageSource bytes.Buffer
	progress := &progressSink{log: p.reqlog, rec: rec}

	// A forced-non-streaming call whose client still wants SSE must
	// synthesize the error envelope too, so only a plain passthrough
	// error response takes the raw forwardErrorBody path.
	if upstreamResp.StatusCode >= 400 && !(clientWantsStream && !effectiveStream) {
		p.forwardErrorBody(w, rec, upstreamResp, capture, &usageSource)
		return
	}

	w.Header().Set("Content-Type", upstreamResp.Header.Get("Content-Type"))
	w.WriteHeader(upstreamResp.StatusCode)

	if clientWantsStream && !effectiveStream {
		// Client asked for SSE but the pipeline forced a non-streamed
		// upstream call (e.g. Legacy + tools): buffer the single JSON
		// response and synthesize the SSE contract ourselves, including
		// the error-envelope shape when the upstream itself failed.
		full, rerr := io.ReadAll(upstreamResp.Body)
		if rerr != nil {
			p.finalizeFailed(rec, errs.New(errs.KindUpstreamIO, "reading upstream response", rerr))
			return
		}
		capture.Write(full)
		usageSource.Write(full)
		if werr := sse.SynthesizeChatCompletion(io.MultiWriter(w, progress), full, time.Now()); werr != nil {
			p.log.Warn("synthesis write failed", "request_id", rec.RequestID, "error", werr)
		}
		if upstreamResp.StatusCode >= 400 {
			rec.Usage = usage.Parse(usage.Family(p.name), full)
			p.finalizeFailed(rec, errs.WithStatus(errs.KindUpstreamHTTP, upstreamResp.StatusCode, "upstream returned an error status", nil))
			return
		}
	} else {
		_, _ = sse.CopyPassthrough(r.Context(), w, upstreamResp.Body, capture, &usageSource, progress)
	}

	p.finalizeCompleted(rec, capture, usageSource.Bytes(), upstreamResp.Header)
}

// progressSink adapts RequestLog.Progress to an io.Writer so streamed
// deltas reach realtime subscribers the same way they reach the capture
// buffer and usage accumulator: as just another tee target.
type progressSink struct {
	log *requestlog.Log
	rec *model.RequestRecord
}

func (s *progressSink) Write(p []byte) (int, error) {
	s.log.Progress(s.rec, string(p))
	return len(p), nil
}

// forwardErrorBody passes a 4xx/5xx upstream response through to the client
// byte-for-byte rather than rewriting it into a synthesized envelope, while
// still recording the failure in the request log with the upstream's own
// status code.
func (p *Pipeline) forwardErrorBody(w http.ResponseWriter, rec *model.RequestRecord, resp *http.Response, capture *sse.CaptureBuffer, usageSource *bytes.Buffer) {
	full, err := io.ReadAll(resp.Body)
	if err != nil {
		p.finalizeFailed(rec, errs.New(errs.KindUpstreamIO, "reading upstream error body", err))
		return
	}
	capture.Write(full)
	usageSource.Write(full)
	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(full)

	rec.StatusCode = resp.StatusCode
	rec.Usage = usage.Parse(usage.Family(p.name), full)
	p.finalizeFailed(rec, errs.WithStatus(errs.KindUpstreamHTTP, resp.StatusCode, "upstream returned an error status", nil))
}

// forward issues the upstream HTTP call with family headers and
// credentials applied. The returned error is non-nil only for transport
// failures or client disconnects; any HTTP status the upstream itself
// returned is left on resp for the caller to classify and pass through.
func (p *Pipeline) forward(ctx context.Context, cfg *model.UpstreamConfig, path string, body []byte, streaming bool) (*http.Response, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.KindBadRequest, "building upstream request", err)
	}

	headers := p.adapter.UpstreamHeaders(streaming)
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	family.ApplyCredentials(req.Header, cfg)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.New(errs.KindClientDisconnect, "client disconnected", ctx.Err())
		}
		return nil, errs.New(errs.KindUpstreamIO, "upstream request failed", err)
	}
	return resp, nil
}

func (p *Pipeline) recordOutcome(policy *model.LoadBalancePolicy, config string, outcome upstream.Outcome) {
	p.tracker.Record(policy, string(p.name), config, outcome)
	if err := p.store.Put("loadbalance", policy); err != nil {
		p.log.Warn("persisting load-balance policy failed", "error", err)
	}
}

func (p *Pipeline) finalizeCompleted(rec *model.RequestRecord, capture *sse.CaptureBuffer, usageBody []byte, headers http.Header) {
	rec.TimestampEnd = time.Now().UTC()
	rec.DurationMs = rec.TimestampEnd.Sub(rec.TimestampStart).Milliseconds()
	rec.ResponseHeaders = flattenHeaders(headers)
	rec.ResponseContent = base64.StdEncoding.EncodeToString(capture.Bytes())
	rec.Truncated = rec.Truncated || capture.Truncated()
	rec.Usage = usage.Parse(usage.Family(p.name), usageBody)
	rec.Advance(model.StatusCompleted)
	p.reqlog.Finalize(rec)
}

func (p *Pipeline) finalizeFailed(rec *model.RequestRecord, err *errs.Error) {
	rec.TimestampEnd = time.Now().UTC()
	rec.DurationMs = rec.TimestampEnd.Sub(rec.TimestampStart).Milliseconds()
	rec.ErrorMessage = err.Error()
	if rec.StatusCode == 0 {
		rec.StatusCode = err.Status
	}
	rec.Advance(model.StatusFailed)
	p.reqlog.Finalize(rec)
}

// fail finalizes rec as failed and writes the error envelope to the client,
// unless the client already disconnected (nothing left to write to).
func (p *Pipeline) fail(w http.ResponseWriter, rec *model.RequestRecord, err error) {
	pe, ok := err.(*errs.Error)
	if !ok {
		pe = errs.New(errs.KindUpstreamIO, "internal error", err)
	}
	p.finalizeFailed(rec, pe)

	if pe.Kind == errs.KindClientDisconnect {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.Status)
	_ = json.NewEncoder(w).Encode(pe.Envelope())
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// peekModelAndStream extracts the "model" and "stream" fields from a
// request body without fully decoding it into a family-specific shape.
func peekModelAndStream(body []byte) (string, bool) {
	var probe struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Model, probe.Stream
}

// setModelField rewrites the top-level "model" field of a JSON body,
// leaving every other field untouched.
func setModelField(body []byte, model string) ([]byte, error) {
	var obj map[string]any
	if len(body) == 0 {
		obj = map[string]any{}
	} else if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("pipeline: decode body: %w", err)
	}
	if model != "" {
		obj["model"] = model
	}
	return json.Marshal(obj)
}
