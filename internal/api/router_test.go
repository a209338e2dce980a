package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/state-handoff/internal/config"
	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/handoff"
	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/metrics"
	"github.com/rflorenc/state-handoff/internal/models"
	"github.com/rflorenc/state-handoff/internal/store"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prom.NewRegistry()
	feed := events.NewFeed()
	h := host.New(store.NewMemoryBackend(),
		host.WithPublisher(feed),
		host.WithMetrics(metrics.NewPrometheusRecorder(reg)))
	s := &Server{
		Host:  h,
		Feed:  feed,
		Codes: handoff.Register(h),
		Accounts: []config.Account{
			{Name: "alice", Password: "wonderland"},
			{Name: "bob", Password: "builder"},
		},
		Metrics: metrics.HTTPHandler(reg),
	}
	ts := httptest.NewServer(NewRouter(s))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, t: t}
}

var passwords = map[string]string{"alice": "wonderland", "bob": "builder"}

// do sends body as JSON, as user if non-empty, and decodes a 2xx response into out.
func (ts *testServer) do(method, path, user string, body any, out any) int {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(ts.t, err)
	if user != "" {
		req.SetBasicAuth(user, passwords[user])
	}
	resp, err := ts.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) create(user, kind string, msg any) models.Instance {
	ts.t.Helper()
	var inst models.Instance
	status := ts.do("POST", "/api/instances", user, map[string]any{"kind": kind, "msg": msg}, &inst)
	require.Equal(ts.t, http.StatusCreated, status)
	return inst
}

func (ts *testServer) pair() (src, tgt models.Instance) {
	ts.t.Helper()
	src = ts.create("alice", handoff.SourceKind, handoff.SourceInitMsg{
		Name:            "Handoff Token",
		InitialBalances: []models.Account{{Address: "alice", Funds: []models.Coin{{Denom: "uatom", Amount: 42}}}},
	})
	tgt = ts.create("bob", handoff.TargetKind, handoff.TargetInitMsg{SourceAddr: src.Address, SourceCodeHash: src.CodeHash})
	return src, tgt
}

func instancePath(addr models.Addr, suffix string) string {
	return "/api/instances/" + string(addr) + suffix
}

func TestRouter_HandoffFlow(t *testing.T) {
	ts := newTestServer(t)
	src, tgt := ts.pair()

	var resp host.Response
	status := ts.do("POST", instancePath(src.Address, "/migrate"), "alice", MigrateRequest{Target: tgt.Address}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(tgt.Address), resp.Attr("migration_target"))

	status = ts.do("POST", instancePath(tgt.Address, "/pull"), "bob", nil, &resp)
	require.Equal(t, http.StatusOK, status)

	var payload models.ExportPayload
	status = ts.do("POST", instancePath(tgt.Address, "/query"), "", map[string]any{"imported_data": struct{}{}}, &payload)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Handoff Token", payload.Name)
	require.Len(t, payload.Accounts, 1)
	assert.Equal(t, uint64(42), payload.Accounts[0].Balance("uatom"))

	var addr handoff.MigrationAddressResponse
	status = ts.do("POST", instancePath(src.Address, "/query"), "", map[string]any{"migration_address": struct{}{}}, &addr)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, addr.Address)
	assert.Equal(t, tgt.Address, *addr.Address)

	var evs []events.Event
	status = ts.do("GET", instancePath(tgt.Address, "/events"), "", nil, &evs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, evs, 3)
	assert.Equal(t, src.Address, evs[1].Sender)

	status = ts.do("GET", instancePath(tgt.Address, "/events?offset=2"), "", nil, &evs)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, evs, 1)
}

func TestRouter_LabelsResolve(t *testing.T) {
	ts := newTestServer(t)
	var src, tgt models.Instance
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/instances", "alice",
		map[string]any{"kind": handoff.SourceKind, "label": "legacy", "msg": struct{}{}}, &src))
	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/instances", "bob",
		map[string]any{"kind": handoff.TargetKind, "label": "successor", "msg": handoff.TargetInitMsg{SourceAddr: src.Address, SourceCodeHash: src.CodeHash}}, &tgt))

	var got models.Instance
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/instances/successor", "", nil, &got))
	assert.Equal(t, tgt.Address, got.Address)

	var resp host.Response
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/instances/legacy/migrate", "alice", MigrateRequest{Target: "successor"}, &resp))
	assert.Equal(t, string(tgt.Address), resp.Attr("migration_target"))
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/instances/successor/pull", "bob", nil, &resp))

	var status handoff.TargetStatus
	require.Equal(t, http.StatusOK, ts.do("POST", "/api/instances/successor/query", "", map[string]any{"status": struct{}{}}, &status))
	assert.Equal(t, handoff.PhaseImported, status.Phase)

	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/api/instances/nobody", "", nil, nil))
}

func TestRouter_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	src, tgt := ts.pair()
	migrate := MigrateRequest{Target: tgt.Address}

	assert.Equal(t, http.StatusConflict, ts.do("POST", instancePath(tgt.Address, "/pull"), "bob", nil, nil), "pull before secret")
	assert.Equal(t, http.StatusForbidden, ts.do("POST", instancePath(src.Address, "/migrate"), "bob", migrate, nil), "not the owner")
	assert.Equal(t, http.StatusForbidden, ts.do("POST", instancePath(src.Address, "/query"), "",
		map[string]any{"exported_data": map[string]any{"secret": nil}}, nil), "export before migration")

	require.Equal(t, http.StatusOK, ts.do("POST", instancePath(src.Address, "/migrate"), "alice", migrate, nil))

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"second migration", "POST", instancePath(src.Address, "/migrate"), "alice", migrate, http.StatusConflict},
		{"frozen transfer", "POST", instancePath(src.Address, "/execute"), "alice",
			map[string]any{"transfer": map[string]any{"recipient": "bob", "amount": map[string]string{"denom": "uatom", "amount": "1"}}}, http.StatusConflict},
		{"pull by stranger", "POST", instancePath(tgt.Address, "/pull"), "alice", nil, http.StatusForbidden},
		{"wrong secret", "POST", instancePath(src.Address, "/query"), "",
			map[string]any{"exported_data": map[string]any{"secret": "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="}}, http.StatusForbidden},
		{"unknown instance", "GET", instancePath("nowhere", ""), "", nil, http.StatusNotFound},
		{"unknown migrate target", "POST", instancePath(src.Address, "/migrate"), "alice", MigrateRequest{Target: "nowhere"}, http.StatusNotFound},
		{"migrate a target", "POST", instancePath(tgt.Address, "/migrate"), "bob", migrate, http.StatusBadRequest},
		{"unknown message", "POST", instancePath(tgt.Address, "/execute"), "bob", map[string]any{"explode": struct{}{}}, http.StatusBadRequest},
		{"unknown kind", "POST", "/api/instances", "alice", map[string]any{"kind": "oracle"}, http.StatusBadRequest},
		{"missing kind", "POST", "/api/instances", "alice", map[string]any{}, http.StatusBadRequest},
		{"no credentials", "POST", instancePath(tgt.Address, "/pull"), "", nil, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ts.do(tc.method, tc.path, tc.user, tc.body, nil))
		})
	}
}

func TestRouter_BadCredentials(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest("POST", ts.URL+"/api/instances", strings.NewReader(`{"kind":"source"}`))
	require.NoError(t, err)
	req.SetBasicAuth("alice", "not-her-password")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
}

func TestRouter_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	src, _ := ts.pair()

	resp, err := ts.Client().Post(ts.URL+instancePath(src.Address, "/query"), "application/json", strings.NewReader(`{"token_info":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestRouter_ListInstancesAndCodes(t *testing.T) {
	ts := newTestServer(t)

	var list []models.Instance
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/instances", "", nil, &list))
	assert.Empty(t, list)

	src, tgt := ts.pair()
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/instances", "", nil, &list))
	require.Len(t, list, 2)
	assert.Equal(t, models.Addr("alice"), list[0].Creator)

	var got models.Instance
	require.Equal(t, http.StatusOK, ts.do("GET", instancePath(tgt.Address, ""), "", nil, &got))
	assert.Equal(t, handoff.TargetKind, got.Kind)

	var codes map[string]string
	require.Equal(t, http.StatusOK, ts.do("GET", "/api/codes", "", nil, &codes))
	assert.Equal(t, src.CodeHash, codes[handoff.SourceKind])
	assert.Equal(t, tgt.CodeHash, codes[handoff.TargetKind])
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t)
	src, tgt := ts.pair()
	require.Equal(t, http.StatusOK, ts.do("POST", instancePath(src.Address, "/migrate"), "alice", MigrateRequest{Target: tgt.Address}, nil))

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `handoff_messages_dispatched_total{kind="target"} 1`)
	assert.Contains(t, string(body), `handoff_transactions_total{result="success"} 3`)
}

func TestRouter_StreamEvents(t *testing.T) {
	ts := newTestServer(t)
	src, tgt := ts.pair()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/instances/" + string(tgt.Address) + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, http.StatusOK, ts.do("POST", instancePath(src.Address, "/migrate"), "alice", MigrateRequest{Target: tgt.Address}, nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []events.Event
	for len(got) < 2 {
		var e events.Event
		require.NoError(t, conn.ReadJSON(&e))
		got = append(got, e)
	}
	assert.Equal(t, events.TypeInstantiate, got[0].Type)
	assert.Equal(t, events.TypeExecute, got[1].Type)
	assert.Equal(t, src.Address, got[1].Sender)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/instances/nowhere/events", nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{handoff.ErrUnauthorized, http.StatusForbidden},
		{handoff.ErrNotAuthorized, http.StatusForbidden},
		{fmt.Errorf("dispatch to x: %w", handoff.ErrUnauthorized), http.StatusForbidden},
		{&handoff.FrozenError{Action: "transfer"}, http.StatusConflict},
		{handoff.ErrSecretNotSet, http.StatusConflict},
		{handoff.ErrAlreadyImported, http.StatusConflict},
		{models.ErrDuplicateLabel, http.StatusConflict},
		{&handoff.RemoteQueryError{Source: "x", Err: handoff.ErrNotAuthorized}, http.StatusBadGateway},
		{host.ErrInstanceNotFound, http.StatusNotFound},
		{host.ErrCodeHashMismatch, http.StatusBadRequest},
		{handoff.ErrUnknownMessage, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}
