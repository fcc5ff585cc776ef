package adminapi

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"clproxy/internal/configstore"
	"clproxy/internal/model"
	"clproxy/internal/upstream"
	"clproxy/internal/utils"
)

// Families lists the three proxy families the pool/failures endpoints
// report on, in a fixed display order.
var Families = []string{"claude", "codex", "legacy"}

// Server holds the state the administration handlers need: the config
// store (for loadbalance.json and system.json) and the JWT secret used to
// sign and verify operator sessions. The secret is process-local and
// regenerated on every restart, which is fine since tokens are short-lived
// and there is only ever one operator identity.
type Server struct {
	store     *configstore.Store
	jwtSecret []byte
}

// NewServer builds a Server. jwtSecret should be a process-lifetime random
// value; losing it simply invalidates outstanding sessions.
func NewServer(store *configstore.Store, jwtSecret []byte) *Server {
	return &Server{store: store, jwtSecret: jwtSecret}
}

// Register attaches the admin routes to mux. Each handler independently
// checks whether an operator passphrase is configured and 404s if not. The
// JWT-gated routes check the token first, so a request without a valid
// token gets 401 whether or not a passphrase is configured.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/login", s.handleLogin)
	mux.HandleFunc("/admin/failures/reset", requireAuth(s.jwtSecret, s.handleFailuresReset))
	mux.HandleFunc("/admin/pool", requireAuth(s.jwtSecret, s.handlePool))
}

func (s *Server) loadSystemSettings() (*model.SystemSettings, bool) {
	settings := &model.SystemSettings{}
	if err := s.store.Get("system", settings); err != nil {
		return settings, false
	}
	return settings, settings.Operator.PassphraseHash != ""
}

type loginRequest struct {
	Passphrase string `json:"passphrase"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	settings, configured := s.loadSystemSettings()
	if !configured {
		http.NotFound(w, r)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(settings.Operator.PassphraseHash), []byte(req.Passphrase)); err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "incorrect passphrase")
		return
	}

	token, exp, err := issueToken(s.jwtSecret)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp})
}

type failuresResetRequest struct {
	Family string `json:"family"`
}

func (s *Server) handleFailuresReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if _, configured := s.loadSystemSettings(); !configured {
		http.NotFound(w, r)
		return
	}

	var req failuresResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Family == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "missing family")
		return
	}

	policy := &model.LoadBalancePolicy{}
	if err := s.store.Get("loadbalance", policy); err != nil {
		policy.Mode = model.LBModeActiveFirst
	}
	upstream.Reset(policy, req.Family)
	if err := s.store.Put("loadbalance", policy); err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to persist reset")
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// poolConfigStatus is one upstream config's health as seen by the pool.
type poolConfigStatus struct {
	Name            string `json:"name"`
	Active          bool   `json:"active"`
	Excluded        bool   `json:"excluded"`
	CurrentFailures int    `json:"current_failures"`
}

type poolFamilyStatus struct {
	Family  string             `json:"family"`
	Mode    model.LBMode       `json:"mode"`
	Configs []poolConfigStatus `json:"configs"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if _, configured := s.loadSystemSettings(); !configured {
		http.NotFound(w, r)
		return
	}

	policy := &model.LoadBalancePolicy{}
	if err := s.store.Get("loadbalance", policy); err != nil {
		policy.Mode = model.LBModeActiveFirst
	}

	out := make([]poolFamilyStatus, 0, len(Families))
	for _, fam := range Families {
		var configs model.FamilyDocument
		_ = s.store.Get(fam, &configs)
		svc := policy.ServiceFor(fam)

		statuses := make([]poolConfigStatus, 0, len(configs))
		for name, cfg := range configs {
			statuses = append(statuses, poolConfigStatus{
				Name:            name,
				Active:          cfg.Active,
				Excluded:        svc.IsExcluded(name),
				CurrentFailures: svc.CurrentFailures[name],
			})
		}
		out = append(out, poolFamilyStatus{Family: fam, Mode: policy.Mode, Configs: statuses})
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, out)
}
