package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/hnode2-datasink/internal/audit"
	"github.com/nerrad567/hnode2-datasink/internal/datasink"
	"github.com/nerrad567/hnode2-datasink/internal/devconfig"
	"github.com/nerrad567/hnode2-datasink/internal/dispatch"
	"github.com/nerrad567/hnode2-datasink/internal/endpoint"
	"github.com/nerrad567/hnode2-datasink/internal/hnode"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/config"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/database"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/logging"
	"github.com/nerrad567/hnode2-datasink/internal/lifecycle"
	"github.com/nerrad567/hnode2-datasink/migrations"
)

// testEnv is a server over a real device, lifecycle and file store.
type testEnv struct {
	srv    *Server
	device *hnode.Device
	lc     *lifecycle.Lifecycle
	store  *flakyStore
}

type envOptions struct {
	// skipEnsure leaves the lifecycle in StateUnchecked.
	skipEnsure bool

	// setup runs after the data sink endpoint set is added.
	setup func(t *testing.T, d *hnode.Device)

	// deps adjusts the server dependencies before New.
	deps func(d *Deps)
}

// flakyStore wraps a store and fails Save on demand.
type flakyStore struct {
	devconfig.Store
	failSave atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, deviceType, instance string, cfg *devconfig.Config) error {
	if s.failSave.Load() {
		return fmt.Errorf("%w: disk full", devconfig.ErrIO)
	}
	return s.Store.Save(ctx, deviceType, instance, cfg)
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	dev := hnode.NewDevice(hnode.NewIdentity(datasink.DeviceType, ""), "test")
	if err := dev.AddEndpoint(datasink.DispatchID, endpoint.DataSink(), datasink.NewDispatcher(nil, nil)); err != nil {
		t.Fatalf("AddEndpoint() error: %v", err)
	}
	if opts.setup != nil {
		opts.setup(t, dev)
	}

	store := &flakyStore{Store: devconfig.NewFileStore(t.TempDir())}
	id := dev.Identity()
	lc := lifecycle.New(store, id.DeviceType, id.Instance, dev)
	if !opts.skipEnsure {
		if err := lc.Ensure(context.Background()); err != nil {
			t.Fatalf("Ensure() error: %v", err)
		}
	}

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:    log,
		Device:    dev,
		Lifecycle: lc,
		Version:   "test",
	}
	if opts.deps != nil {
		opts.deps(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{srv: srv, device: dev, lc: lc, store: store}
}

// testServer creates a Server with a loaded configuration.
func testServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t, envOptions{}).srv
}

func serve(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}

// ─── Construction Tests ────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	log := logging.Default()

	tests := []struct {
		name string
		deps Deps
	}{
		{name: "no logger", deps: Deps{Device: env.device, Lifecycle: env.lc}},
		{name: "no device", deps: Deps{Logger: log, Lifecycle: env.lc}},
		{name: "no lifecycle", deps: Deps{Logger: log, Device: env.device}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

type stubCheck struct{ err error }

func (c stubCheck) HealthCheck(context.Context) error { return c.err }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) {
			d.HealthChecks = map[string]HealthChecker{"database": stubCheck{}}
		},
	})

	w := serve(env.srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status      string            `json:"status"`
		Version     string            `json:"version"`
		ConfigState string            `json:"configState"`
		Checks      map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.ConfigState != "loaded" {
		t.Errorf("configState = %q, want loaded", resp.ConfigState)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("checks[database] = %q, want ok", resp.Checks["database"])
	}
}

func TestHealth_FailingDependency(t *testing.T) {
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) {
			d.HealthChecks = map[string]HealthChecker{
				"database": stubCheck{},
				"mqtt":     stubCheck{err: errors.New("not connected")},
			}
		},
	})

	w := serve(env.srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	checks, _ := resp["checks"].(map[string]any)
	if checks["mqtt"] != "not connected" {
		t.Errorf("checks[mqtt] = %v, want not connected", checks["mqtt"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodGet, "/health", nil)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	testServer(t).Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) {
			d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
		},
	})

	req := httptest.NewRequest(http.MethodOptions, "/hnode2/datasink/status", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) {
			d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodGet, "/hnode2/nope", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if e := decodeError(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodDelete, "/hnode2/datasink/status", nil)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if e := decodeError(t, w); e.Code != ErrCodeMethodNotAllow {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeMethodNotAllow)
	}
	if got := w.Header().Get("Allow"); got != http.MethodGet {
		t.Errorf("Allow = %q, want %q", got, http.MethodGet)
	}
}

func TestMethodNotAllowed_ListsTableMethods(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodPost, "/hnode2/datasink/logging", nil)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if got := w.Header().Get("Allow"); got != "GET, PUT" {
		t.Errorf("Allow = %q, want %q", got, "GET, PUT")
	}
}

func TestMethodNotAllowed_FrameworkRouteHasNoAllow(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodDelete, "/hnode2/device/info", nil)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if got := w.Header().Get("Allow"); got != "" {
		t.Errorf("Allow = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(h, http.MethodGet, "/", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// ─── Data Sink Operation Tests ─────────────────────────────────────

func TestDataSink_ReadOperations(t *testing.T) {
	h := testServer(t).Handler()

	tests := []struct {
		path string
		want string
	}{
		{path: "/hnode2/datasink/status", want: `{"overallStatus":"OK"}`},
		{path: "/hnode2/datasink/logging", want: `[]`},
		{path: "/hnode2/datasink/logging/log", want: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(h, http.MethodGet, tt.path, nil)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if got := w.Body.String(); got != tt.want {
				t.Errorf("body = %s, want %s", got, tt.want)
			}
			if ct := w.Header().Get("Content-Type"); ct != dispatch.ContentTypeJSON {
				t.Errorf("Content-Type = %q, want %q", ct, dispatch.ContentTypeJSON)
			}
			if !w.Flushed {
				t.Error("chunked response should be flushed")
			}
			if cl := w.Header().Get("Content-Length"); cl != "" {
				t.Errorf("Content-Length = %q, want none for a chunked response", cl)
			}
		})
	}
}

func TestDataSink_SetLoggingConfig(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodPut, "/hnode2/datasink/logging",
		strings.NewReader(`{"level":"debug"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "" {
		t.Errorf("Content-Type = %q, want none", ct)
	}
	if cl := w.Header().Get("Content-Length"); cl != "0" {
		t.Errorf("Content-Length = %q, want 0", cl)
	}
}

func TestDataSink_AddLogEntries(t *testing.T) {
	h := testServer(t).Handler()

	seen := make(map[string]bool)
	for range 3 {
		w := serve(h, http.MethodPost, "/hnode2/datasink/logging/log",
			strings.NewReader(`{"msg":"hello"}`))

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
		}
		loc := w.Header().Get("Location")
		if !strings.HasPrefix(loc, datasink.LogEntriesPath+"/") {
			t.Fatalf("Location = %q, want prefix %s/", loc, datasink.LogEntriesPath)
		}
		if seen[loc] {
			t.Errorf("Location %q returned twice", loc)
		}
		seen[loc] = true
		if w.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", w.Body.String())
		}
	}
}

func TestDataSink_BodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("x"), maxRequestBodySize+1)
	w := serve(testServer(t).Handler(), http.MethodPost, "/hnode2/datasink/logging/log", bytes.NewReader(body))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestDataSink_ChunkedOverHTTP(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/hnode2/datasink/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(resp.TransferEncoding) != 1 || resp.TransferEncoding[0] != "chunked" {
		t.Errorf("TransferEncoding = %v, want [chunked]", resp.TransferEncoding)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"overallStatus":"OK"}` {
		t.Errorf("body = %s", body)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/hnode2/datasink/logging", strings.NewReader(`{}`))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT logging: %v", err)
	}
	defer resp2.Body.Close()

	if resp2.ContentLength != 0 {
		t.Errorf("ContentLength = %d, want 0", resp2.ContentLength)
	}
	if len(resp2.TransferEncoding) != 0 {
		t.Errorf("TransferEncoding = %v, want none", resp2.TransferEncoding)
	}
}

// ─── Dispatch Edge Case Tests ──────────────────────────────────────

const widgetDocument = `{
  "openapi": "3.0.0",
  "info": {"title": "widgets", "version": "1.0.0"},
  "paths": {
    "/hnode2/widget/spin": {"post": {"operationId": "spinWidget"}},
    "/hnode2/widget/stop": {"post": {"operationId": "stopWidget"}}
  }
}`

// silentDispatcher returns without sending a response.
type silentDispatcher struct{}

func (silentDispatcher) Dispatch(context.Context, string, dispatch.Operation) error { return nil }

func addWidgetEndpoint(disp hnode.Dispatcher) func(t *testing.T, d *hnode.Device) {
	return func(t *testing.T, d *hnode.Device) {
		t.Helper()
		table, err := endpoint.Parse([]byte(widgetDocument))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if err := d.AddEndpoint("widgets", table, disp); err != nil {
			t.Fatalf("AddEndpoint() error: %v", err)
		}
	}
}

func TestOperation_UnhandledIsNotImplemented(t *testing.T) {
	disp := dispatch.New()
	disp.HandleFunc("spinWidget", func(context.Context, dispatch.Operation) (dispatch.Result, error) {
		return dispatch.Result{Status: http.StatusAccepted}, nil
	})
	env := newTestEnv(t, envOptions{setup: addWidgetEndpoint(disp)})
	h := env.srv.Handler()

	if w := serve(h, http.MethodPost, "/hnode2/widget/spin", nil); w.Code != http.StatusAccepted {
		t.Errorf("spin status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if w := serve(h, http.MethodPost, "/hnode2/widget/stop", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("stop status = %d, want %d", w.Code, http.StatusNotImplemented)
	}
}

func TestOperation_NoResponseIsInternalError(t *testing.T) {
	env := newTestEnv(t, envOptions{setup: addWidgetEndpoint(silentDispatcher{})})

	w := serve(env.srv.Handler(), http.MethodPost, "/hnode2/widget/spin", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHTTPOperation_SendOnce(t *testing.T) {
	w := httptest.NewRecorder()
	op := newHTTPOperation(w, httptest.NewRequest(http.MethodGet, "/", nil))

	op.SetStatus(http.StatusAccepted)
	if err := op.Send(nil); err != nil {
		t.Fatalf("first Send() error: %v", err)
	}
	if err := op.Send([]byte("late")); !errors.Is(err, dispatch.ErrAlreadySent) {
		t.Errorf("second Send() error = %v, want ErrAlreadySent", err)
	}
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
}

func TestHTTPOperation_NilBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Body = nil
	op := newHTTPOperation(httptest.NewRecorder(), req)

	data, err := io.ReadAll(op.Body())
	if err != nil || len(data) != 0 {
		t.Errorf("Body() read = %q, %v; want empty", data, err)
	}
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestDeviceInfo(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodGet, "/hnode2/device/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp DeviceInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.HNodeID == "" {
		t.Error("hnodeID should be set after the first run")
	}
	if resp.DeviceType != datasink.DeviceType {
		t.Errorf("deviceType = %q, want %q", resp.DeviceType, datasink.DeviceType)
	}
	if resp.Instance != hnode.DefaultInstance || resp.Name != hnode.DefaultInstance {
		t.Errorf("instance/name = %q/%q, want %q", resp.Instance, resp.Name, hnode.DefaultInstance)
	}
	if resp.ConfigState != "loaded" {
		t.Errorf("configState = %q, want loaded", resp.ConfigState)
	}
}

func TestDeviceInfo_NotLoaded(t *testing.T) {
	env := newTestEnv(t, envOptions{skipEnsure: true})

	w := serve(env.srv.Handler(), http.MethodGet, "/hnode2/device/info", nil)
	var resp DeviceInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.HNodeID != "" {
		t.Errorf("hnodeID = %q, want empty before load", resp.HNodeID)
	}
	if resp.ConfigState != "unchecked" {
		t.Errorf("configState = %q, want unchecked", resp.ConfigState)
	}
}

func TestGetConfig(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodGet, "/hnode2/device/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	cfg, err := devconfig.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	s, ok := cfg.Section(hnode.SectionDevice)
	if !ok {
		t.Fatal("device section missing")
	}
	if s[hnode.KeyDeviceType] != datasink.DeviceType {
		t.Errorf("deviceType = %q", s[hnode.KeyDeviceType])
	}
}

func TestGetConfig_NotLoaded(t *testing.T) {
	env := newTestEnv(t, envOptions{skipEnsure: true})

	w := serve(env.srv.Handler(), http.MethodGet, "/hnode2/device/config", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// renamedConfig returns the current config with the device renamed.
func renamedConfig(t *testing.T, env *testEnv, name string) []byte {
	t.Helper()
	cfg := env.lc.Snapshot()
	s, _ := cfg.Section(hnode.SectionDevice)
	s[hnode.KeyName] = name
	cfg.SetSection(hnode.SectionDevice, s)
	data, err := devconfig.Encode(cfg)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return data
}

func TestPutConfig(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	h := env.srv.Handler()

	w := serve(h, http.MethodPut, "/hnode2/device/config", bytes.NewReader(renamedConfig(t, env, "kitchen sink")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	info, _ := env.device.Info()
	if info.Name != "kitchen sink" {
		t.Errorf("device name = %q, want kitchen sink", info.Name)
	}

	id := env.device.Identity()
	stored, err := env.store.Load(context.Background(), id.DeviceType, id.Instance)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s, _ := stored.Section(hnode.SectionDevice); s[hnode.KeyName] != "kitchen sink" {
		t.Errorf("stored name = %q, want kitchen sink", s[hnode.KeyName])
	}
}

func TestPutConfig_Failures(t *testing.T) {
	tests := []struct {
		name     string
		opts     envOptions
		body     func(t *testing.T, env *testEnv) []byte
		failSave bool
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed document",
			body:     func(*testing.T, *testEnv) []byte { return []byte(`{"sections":`) },
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeBadRequest,
		},
		{
			name:     "device section missing",
			body:     func(*testing.T, *testEnv) []byte { return []byte(`{"sections":{"other":{"a":"b"}}}`) },
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeValidation,
		},
		{
			name:     "not loaded",
			opts:     envOptions{skipEnsure: true},
			body:     func(*testing.T, *testEnv) []byte { return []byte(`{"sections":{}}`) },
			wantCode: http.StatusServiceUnavailable,
			wantErr:  ErrCodeUnavailable,
		},
		{
			name:     "save fails",
			body:     func(t *testing.T, env *testEnv) []byte { return renamedConfig(t, env, "lost") },
			failSave: true,
			wantCode: http.StatusInternalServerError,
			wantErr:  ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts)
			before, _ := env.device.Info()
			env.store.failSave.Store(tt.failSave)

			w := serve(env.srv.Handler(), http.MethodPut, "/hnode2/device/config", bytes.NewReader(tt.body(t, env)))
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if e := decodeError(t, w); e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
			if after, _ := env.device.Info(); after != before {
				t.Errorf("device info changed to %+v", after)
			}
		})
	}
}

func TestPutConfig_TooLarge(t *testing.T) {
	body := bytes.Repeat([]byte(" "), maxRequestBodySize+1)
	w := serve(testServer(t).Handler(), http.MethodPut, "/hnode2/device/config", bytes.NewReader(body))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestListEndpoints(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodGet, "/hnode2/device/endpoints", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Endpoints []EndpointResponse `json:"endpoints"`
		Count     int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || len(resp.Endpoints) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	ep := resp.Endpoints[0]
	if ep.DispatchID != datasink.DispatchID {
		t.Errorf("dispatchID = %q, want %q", ep.DispatchID, datasink.DispatchID)
	}
	if len(ep.Routes) != 5 {
		t.Errorf("routes = %d, want 5", len(ep.Routes))
	}
}

func TestEndpointDocument(t *testing.T) {
	h := testServer(t).Handler()

	w := serve(h, http.MethodGet, "/hnode2/device/endpoints/"+datasink.DispatchID+"/openapi", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !bytes.Equal(w.Body.Bytes(), endpoint.DataSink().Document()) {
		t.Error("document does not match the endpoint table")
	}

	w = serve(h, http.MethodGet, "/hnode2/device/endpoints/unknown/openapi", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown set status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Config History Tests ──────────────────────────────────────────

func setupAudit(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func TestConfigHistory(t *testing.T) {
	repo := setupAudit(t)
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) { d.Audit = repo },
	})
	h := env.srv.Handler()

	serve(h, http.MethodPut, "/hnode2/device/config", bytes.NewReader(renamedConfig(t, env, "first")))
	serve(h, http.MethodPut, "/hnode2/device/config", strings.NewReader(`{"sections":{"other":{"a":"b"}}}`))

	w := serve(h, http.MethodGet, "/hnode2/device/config/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var page audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if page.Total != 2 || len(page.Entries) != 2 {
		t.Fatalf("total = %d, entries = %d, want 2", page.Total, len(page.Entries))
	}
	if page.Entries[0].Result != ConfigUpdateRejected || page.Entries[1].Result != ConfigUpdateApplied {
		t.Errorf("results = %s, %s; want rejected, applied", page.Entries[0].Result, page.Entries[1].Result)
	}
	if page.Entries[0].Details["error"] == nil {
		t.Error("rejected entry should carry the error")
	}
	if page.Entries[1].Instance != hnode.DefaultInstance {
		t.Errorf("instance = %q, want %q", page.Entries[1].Instance, hnode.DefaultInstance)
	}

	w = serve(h, http.MethodGet, "/hnode2/device/config/history?result=applied&limit=5", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if page.Total != 1 || page.Limit != 5 {
		t.Errorf("filtered total/limit = %d/%d, want 1/5", page.Total, page.Limit)
	}

	w = serve(h, http.MethodGet, "/hnode2/device/config/history?limit=many", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestConfigHistory_Disabled(t *testing.T) {
	w := serve(testServer(t).Handler(), http.MethodGet, "/hnode2/device/config/history", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Metrics and Telemetry Tests ───────────────────────────────────

type recordingTelemetry struct {
	mu      sync.Mutex
	samples []influxdb.OperationSample
}

func (r *recordingTelemetry) WriteOperation(s influxdb.OperationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	h := env.srv.Handler()

	serve(h, http.MethodGet, "/hnode2/datasink/status", nil)
	serve(h, http.MethodPut, "/hnode2/device/config", bytes.NewReader(renamedConfig(t, env, "metered")))

	w := serve(h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, want := range []string{
		`hnode2_operations_total{dispatch_id="hnode2DataSink",operation="getStatus",status="200"} 1`,
		`hnode2_config_updates_total{result="applied"} 1`,
		`hnode2_operation_duration_seconds_count{dispatch_id="hnode2DataSink",operation="getStatus"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("d", "op", http.StatusOK, time.Millisecond)
	m.ObserveConfigUpdate(ConfigUpdateApplied)
	m.observeRateLimited()

	if m.Registry() != nil {
		t.Error("nil Metrics should have no registry")
	}
	if w := serve(m.Handler(), http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("nil Metrics handler status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestTelemetry(t *testing.T) {
	rec := &recordingTelemetry{}
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) { d.Telemetry = rec },
	})

	serve(env.srv.Handler(), http.MethodPost, "/hnode2/datasink/logging/log", strings.NewReader(`{}`))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(rec.samples))
	}
	s := rec.samples[0]
	if s.Operation != datasink.OpAddLogEntries || s.Status != http.StatusCreated {
		t.Errorf("sample = %+v", s)
	}
	if s.DeviceType != datasink.DeviceType || s.Instance != hnode.DefaultInstance {
		t.Errorf("sample identity = %s/%s", s.DeviceType, s.Instance)
	}
}

// ─── Rate Limit Tests ──────────────────────────────────────────────

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) {
			d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60}
		},
	})
	h := env.srv.Handler()

	request := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/hnode2/datasink/status", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	// Burst is a tenth of the per-minute rate.
	for i := range 6 {
		if w := request("192.0.2.1:4000"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := request("192.0.2.1:4001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if e := decodeError(t, w); e.Code != ErrCodeTooManyRequests {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeTooManyRequests)
	}

	if w := request("192.0.2.2:4000"); w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestClientLimiter(t *testing.T) {
	if l := newClientLimiter(0); l != nil {
		t.Fatal("newClientLimiter(0) should be nil")
	}
	var disabled *clientLimiter
	if ok, _ := disabled.allow("a", time.Now()); !ok {
		t.Error("nil limiter should allow")
	}

	l := newClientLimiter(60) // 1/s, burst 6
	t0 := time.Unix(1_000_000, 0)

	for i := range 6 {
		if ok, _ := l.allow("a", t0); !ok {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	ok, retry := l.allow("a", t0)
	if ok {
		t.Fatal("request beyond burst allowed")
	}
	if retry != time.Second {
		t.Errorf("retryAfter = %v, want 1s", retry)
	}
	if ok, _ := l.allow("a", t0.Add(time.Second)); !ok {
		t.Error("request after refill denied")
	}
}

func TestClientLimiter_EvictsIdle(t *testing.T) {
	l := newClientLimiter(60)
	t0 := time.Unix(1_000_000, 0)

	l.allow("idle", t0)
	l.hits = limiterSweepEvery - 1
	l.allow("active", t0.Add(limiterIdleTTL+time.Minute))

	if _, ok := l.byClient["idle"]; ok {
		t.Error("idle client not evicted")
	}
	if _, ok := l.byClient["active"]; !ok {
		t.Error("active client evicted")
	}
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "192.0.2.7:5555"
	if got := clientAddr(req); got != "192.0.2.7" {
		t.Errorf("clientAddr() = %q, want 192.0.2.7", got)
	}
	req.RemoteAddr = "unix-socket"
	if got := clientAddr(req); got != "unix-socket" {
		t.Errorf("clientAddr() = %q, want unix-socket", got)
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if srv.Addr() != nil {
		t.Error("Addr() before Start should be nil")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	url := "http://" + srv.Addr().String() + "/health"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(url); err == nil {
		resp.Body.Close()
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { first.Close() }) //nolint:errcheck // Test cleanup

	port := first.Addr().(*net.TCPAddr).Port
	env := newTestEnv(t, envOptions{
		deps: func(d *Deps) { d.Config.Port = port },
	})
	if err := env.srv.Start(context.Background()); err == nil {
		env.srv.Close() //nolint:errcheck // Test cleanup
		t.Error("Start() on a bound port should fail")
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	if err := testServer(t).Close(); err != nil {
		t.Errorf("Close() before Start error: %v", err)
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", maxRequestIDLength+1))
	w := httptest.NewRecorder()
	testServer(t).Handler().ServeHTTP(w, req)

	got := w.Header().Get("X-Request-ID")
	if got == "" || len(got) > maxRequestIDLength {
		t.Errorf("X-Request-ID = %q, want a generated ID", got)
	}
}

func TestRecovery_AfterHeaderWritten(t *testing.T) {
	srv := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late boom")
	}))

	w := serve(h, http.MethodGet, "/", nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
}

func TestBodySizeLimit_DeclaredLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/hnode2/datasink/logging/log", strings.NewReader("{}"))
	req.ContentLength = maxRequestBodySize + 1
	w := httptest.NewRecorder()
	testServer(t).Handler().ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if e := decodeError(t, w); e.Code != ErrCodeTooLarge {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeTooLarge)
	}
}
