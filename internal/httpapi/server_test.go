package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clproxy/internal/configstore"
	"clproxy/internal/family"
	"clproxy/internal/model"
	"clproxy/internal/pipeline"
	"clproxy/internal/ratelimit"
	"clproxy/internal/requestlog"
)

func newTestServer(t *testing.T) (*Server, *configstore.Store, *requestlog.Log) {
	t.Helper()
	store, err := configstore.New(t.TempDir())
	require.NoError(t, err)

	reqlog, err := requestlog.Open(t.TempDir(), "codex", 64)
	require.NoError(t, err)
	t.Cleanup(reqlog.Close)

	adapter := family.NewCodex()
	pipe := pipeline.New(family.Codex, adapter, store, ratelimit.NewMemory(), reqlog, nil)

	return New(family.Codex, adapter, pipe, store, reqlog, nil), store, reqlog
}

func TestHealthReportsActiveConfigInActiveFirstMode(t *testing.T) {
	s, store, _ := newTestServer(t)
	require.NoError(t, store.Put("loadbalance", &model.LoadBalancePolicy{Mode: model.LBModeActiveFirst}))
	require.NoError(t, store.Put("codex", model.FamilyDocument{
		"primary": &model.UpstreamConfig{Name: "primary", Active: true, AuthToken: "tok"},
	}))

	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "primary", resp.ActiveConfig)
}

func TestBuildBodyAppliesCodexTransform(t *testing.T) {
	s, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	s.Register(mux)

	payload := `{"body":{"model":"gpt-5-codex","input":"hi"},"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/codex/build-body", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp buildBodyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.JSON, &body))
	assert.Equal(t, false, body["store"])
	assert.NotEmpty(t, resp.Headers[http.CanonicalHeaderKey("OpenAI-Beta")])
}

func TestQuickSendForwardsToSelectedUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("line one\nline two\n"))
	}))
	defer upstream.Close()

	s, store, _ := newTestServer(t)
	require.NoError(t, store.Put("codex", model.FamilyDocument{
		"primary": &model.UpstreamConfig{Name: "primary", BaseURL: upstream.URL, Active: true, AuthToken: "tok"},
	}))
	require.NoError(t, store.Put("loadbalance", &model.LoadBalancePolicy{Mode: model.LBModeActiveFirst}))

	mux := http.NewServeMux()
	s.Register(mux)

	payload := `{"body":{"model":"gpt-5-codex","input":"hi"},"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/codex/quick-send", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp quickSendResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"line one", "line two"}, resp.Lines)
}

func TestRealtimeStreamsSnapshotThenEvents(t *testing.T) {
	s, _, reqlog := newTestServer(t)
	mux := http.NewServeMux()
	s.Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var snapshot requestlog.Event
	require.NoError(t, json.Unmarshal(msg, &snapshot))
	assert.Equal(t, requestlog.EventSnapshot, snapshot.Type)

	reqlog.Started(&model.RequestRecord{RequestID: "r1", Status: model.StatusPending})

	_, msg2, err := conn.ReadMessage()
	require.NoError(t, err)
	var started requestlog.Event
	require.NoError(t, json.Unmarshal(msg2, &started))
	assert.Equal(t, requestlog.EventStarted, started.Type)
	require.NotNil(t, started.Record)
	assert.Equal(t, "r1", started.Record.RequestID)
}
