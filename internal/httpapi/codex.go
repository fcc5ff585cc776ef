package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"clproxy/internal/errs"
	"clproxy/internal/family"
	"clproxy/internal/model"
	"clproxy/internal/upstream"
	"clproxy/internal/utils"
)

// buildBodyRequest mirrors the fields a real /v1/responses call would carry;
// these two helper routes exist so the monitoring UI can show an operator
// exactly what the Codex adapter would send upstream, without spending an
// actual request against a paid upstream.
type buildBodyRequest struct {
	Body   json.RawMessage `json:"body"`
	Stream bool            `json:"stream"`
}

type buildBodyResponse struct {
	JSON    json.RawMessage   `json:"json"`
	Headers map[string]string `json:"headers"`
}

func (s *Server) loadSystemSettings() *model.SystemSettings {
	settings := &model.SystemSettings{}
	_ = s.store.Get("system", settings)
	return settings
}

// transformForHelper runs a raw request body through the Codex adapter's
// TransformBody step alone, without touching routing, filtering, or the
// upstream pool - the two helper endpoints are deliberately narrower than
// the real pipeline.
func (s *Server) transformForHelper(req buildBodyRequest) (family.TransformResult, error) {
	return s.adapter.TransformBody(family.TransformInput{
		Body:              []byte(req.Body),
		FromAlternatePath: false,
		ClientWantsStream: req.Stream,
		Settings:          s.loadSystemSettings(),
	})
}

func (s *Server) handleBuildBody(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req buildBodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.transformForHelper(req)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "transforming request body: "+err.Error())
		return
	}

	streaming := req.Stream
	if out.ForceStream != nil {
		streaming = *out.ForceStream
	}
	headers := s.adapter.UpstreamHeaders(streaming)

	_ = utils.RespondWithJSON(w, http.StatusOK, buildBodyResponse{
		JSON:    json.RawMessage(out.Body),
		Headers: flattenHeaders(headers),
	})
}

type quickSendResponse struct {
	StatusCode int      `json:"status_code"`
	Lines      []string `json:"lines"`
}

// handleQuickSend runs the same transform as build-body, then actually
// selects an upstream config and fires the request, returning the raw
// status and body split into lines rather than re-parsing it as any
// particular family's response shape - this is a debugging aid, not a
// client-facing contract.
func (s *Server) handleQuickSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req buildBodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.transformForHelper(req)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "transforming request body: "+err.Error())
		return
	}

	var probe struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(out.Body, &probe)

	var configs model.FamilyDocument
	_ = s.store.Get(string(s.name), &configs)
	policy := &model.LoadBalancePolicy{}
	if err := s.store.Get("loadbalance", policy); err != nil {
		policy.Mode = model.LBModeActiveFirst
	}
	routes := &model.RouteTable{}
	_ = s.store.Get("routing", routes)

	cfg, err := upstream.Select(upstream.SelectInput{
		Family:         string(s.name),
		Configs:        configs,
		Policy:         policy,
		RouteTable:     routes,
		RequestedModel: probe.Model,
	})
	if err != nil {
		pe, ok := err.(*errs.Error)
		status := http.StatusBadGateway
		if ok {
			status = pe.Status
		}
		utils.RespondWithError(w, status, "no eligible upstream: "+err.Error())
		return
	}

	streaming := req.Stream
	if out.ForceStream != nil {
		streaming = *out.ForceStream
	}

	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+s.adapter.CanonicalPath(), bytes.NewReader(out.Body))
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "building upstream request")
		return
	}
	headers := s.adapter.UpstreamHeaders(streaming)
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	family.ApplyCredentials(httpReq.Header, cfg)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadGateway, "reading upstream response failed")
		return
	}

	lines := splitLines(body)
	_ = utils.RespondWithJSON(w, http.StatusOK, quickSendResponse{StatusCode: resp.StatusCode, Lines: lines})
}

func splitLines(body []byte) []string {
	lines := make([]string, 0, 16)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
