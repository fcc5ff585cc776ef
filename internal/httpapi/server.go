// Package httpapi wires a family's Pipeline, RequestLog, and (optionally)
// the admin API onto an *http.ServeMux. It owns no routing decisions of its
// own beyond the canonical/alternate path table in §6 of the spec - every
// actual request is handled by pipeline.Pipeline.
package httpapi

import (
	"net/http"
	"os"
	"time"

	"clproxy/internal/adminapi"
	"clproxy/internal/configstore"
	"clproxy/internal/family"
	"clproxy/internal/model"
	"clproxy/internal/obslog"
	"clproxy/internal/pipeline"
	"clproxy/internal/requestlog"
	"clproxy/internal/utils"
)

// Server holds everything one family's listening port needs to answer HTTP
// traffic: the request pipeline, the request log (for /health and
// /ws/realtime), and the config store (for /health's active_config lookup).
type Server struct {
	name    family.Name
	adapter family.Adapter
	pipe    *pipeline.Pipeline
	store   *configstore.Store
	reqlog  *requestlog.Log
	admin   *adminapi.Server
	log     *obslog.Logger
	started time.Time
}

// New builds a Server for one family. admin may be nil, in which case the
// /admin/* routes are not registered at all.
func New(name family.Name, adapter family.Adapter, pipe *pipeline.Pipeline, store *configstore.Store, reqlog *requestlog.Log, admin *adminapi.Server) *Server {
	return &Server{
		name:    name,
		adapter: adapter,
		pipe:    pipe,
		store:   store,
		reqlog:  reqlog,
		admin:   admin,
		log:     obslog.New("httpapi." + string(name)),
		started: time.Now().UTC(),
	}
}

// Register attaches every route this family exposes to mux. Family-specific
// helper routes (the Codex build-body/quick-send pair) are only registered
// for the Codex family.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(s.adapter.CanonicalPath(), s.pipe.ServeHTTP)
	for _, alt := range s.alternatePaths() {
		mux.HandleFunc(alt, s.pipe.ServeHTTP)
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws/realtime", s.handleRealtime)

	if s.name == family.Codex {
		mux.HandleFunc("/api/codex/build-body", s.handleBuildBody)
		mux.HandleFunc("/api/codex/quick-send", s.handleQuickSend)
	}

	if s.admin != nil {
		s.admin.Register(mux)
	}
}

// alternatePaths lists the non-canonical routes a family also answers on,
// per the HTTP surface table. Legacy's canonical route already is
// /v1/chat/completions, so only Claude needs the alternate registered -
// registering it twice for Legacy would panic on the duplicate mux pattern.
func (s *Server) alternatePaths() []string {
	if s.name == family.Claude {
		return []string{"/v1/chat/completions"}
	}
	return nil
}

var pid = os.Getpid()

type healthResponse struct {
	Status       string `json:"status"`
	PID          int    `json:"pid"`
	ActiveConfig string `json:"active_config"`
}

// handleHealth reports process liveness and, where the family's
// LoadBalancePolicy is in active-first mode, the single config currently
// marked active. Weight-based mode has no single "active" config, so the
// field is left empty rather than guessing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	resp := healthResponse{Status: "ok", PID: pid}

	policy := &model.LoadBalancePolicy{}
	if err := s.store.Get("loadbalance", policy); err == nil && policy.Mode == model.LBModeActiveFirst {
		var configs model.FamilyDocument
		if err := s.store.Get(string(s.name), &configs); err == nil {
			for _, cfg := range configs {
				if cfg.Active {
					resp.ActiveConfig = cfg.Name
					break
				}
			}
		}
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, resp)
}
