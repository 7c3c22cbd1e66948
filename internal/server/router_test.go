package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/samgo/internal/auth"
	"github.com/loykin/samgo/internal/config"
	"github.com/loykin/samgo/internal/service"
	"github.com/loykin/samgo/internal/service/memory"
	"github.com/loykin/samgo/internal/supervisor"
	"github.com/loykin/samgo/internal/view"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setupRouter(t *testing.T, base string, tweak func(*Options)) (http.Handler, *memory.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := memory.New()
	svc.AddGame(480,
		service.Definition{ID: "ACH_WIN_ONE_GAME", Name: "Winner"},
		service.Definition{ID: "ACH_TRAVEL_FAR_ACCUM", Name: "Interstellar"},
	)
	sup := supervisor.New(supervisor.Options{
		Launcher: &supervisor.InProcessLauncher{
			NewService:   func(uint32) (service.Service, error) { return svc, nil },
			PollInterval: 5 * time.Millisecond,
			Logger:       quiet(),
		},
		Logger:        quiet(),
		TerminateWait: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Close(ctx)
	})
	opts := Options{BasePath: base, Logger: quiet()}
	if tweak != nil {
		tweak(&opts)
	}
	return NewRouter(sup, opts).Handler(), svc
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestLaunchValidation(t *testing.T) {
	h, _ := setupRouter(t, "/api", nil)
	if rec := doReq(t, h, http.MethodPost, "/api/launch", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without app_id, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/api/launch?app_id=abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad app_id, got %d", rec.Code)
	}
}

func TestRequestsWithoutChild(t *testing.T) {
	h, _ := setupRouter(t, "", nil)
	for _, path := range []string{"/refresh", "/commit"} {
		if rec := doReq(t, h, http.MethodPost, path, nil); rec.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", path, rec.Code)
		}
	}
	rec := doReq(t, h, http.MethodPost, "/mutations", MutationRequest{ID: "ACH_WIN_ONE_GAME", Achieved: true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/achievements", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/terminate", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("terminate without child should be accepted, got %d", rec.Code)
	}
	st := decode[supervisor.Status](t, doReq(t, h, http.MethodGet, "/status", nil))
	if st.State != "idle" {
		t.Fatalf("expected idle, got %s", st.State)
	}
}

func TestMutationValidation(t *testing.T) {
	h, _ := setupRouter(t, "", nil)
	if rec := doReq(t, h, http.MethodPost, "/mutations", MutationRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty id, got %d", rec.Code)
	}
	long := MutationRequest{ID: strings.Repeat("x", 128)}
	if rec := doReq(t, h, http.MethodPost, "/mutations", long); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long id, got %d", rec.Code)
	}
}

func TestFullLifecycle(t *testing.T) {
	h, svc := setupRouter(t, "/api", nil)

	rec := doReq(t, h, http.MethodPost, "/api/launch", LaunchRequest{AppID: 480})
	if rec.Code != http.StatusOK {
		t.Fatalf("launch: %d %s", rec.Code, rec.Body.String())
	}
	lr := decode[LaunchResponse](t, rec)
	if lr.Handle == nil || lr.Handle.AppID != 480 {
		t.Fatalf("unexpected handle: %+v", lr.Handle)
	}
	if rec := doReq(t, h, http.MethodPost, "/api/launch?app_id=480", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second launch: expected 409, got %d", rec.Code)
	}

	ach := decode[AchievementsResponse](t, doReq(t, h, http.MethodGet, "/api/achievements", nil))
	if ach.Count != 2 || ach.Achievements[0].ID != "ACH_WIN_ONE_GAME" {
		t.Fatalf("unexpected achievements: %+v", ach)
	}

	rec = doReq(t, h, http.MethodPost, "/api/mutations", MutationRequest{ID: "ACH_TRAVEL_FAR_ACCUM", Achieved: true, Queue: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("queue: %d", rec.Code)
	}
	pending := decode[[]supervisor.PendingMutation](t, doReq(t, h, http.MethodGet, "/api/mutations", nil))
	if len(pending) != 1 || pending[0].ID != "ACH_TRAVEL_FAR_ACCUM" {
		t.Fatalf("pending: %+v", pending)
	}

	cr := decode[CommitResponse](t, doReq(t, h, http.MethodPost, "/api/commit", nil))
	if cr.Sent != 1 {
		t.Fatalf("commit sent %d", cr.Sent)
	}

	rec = doReq(t, h, http.MethodPost, "/api/mutations", MutationRequest{ID: "ACH_WIN_ONE_GAME", Achieved: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("mutation: %d %s", rec.Code, rec.Body.String())
	}
	if rec := doReq(t, h, http.MethodPost, "/api/refresh", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("refresh: %d", rec.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		vr := decode[VerifyResponse](t, doReq(t, h, http.MethodGet, "/api/verify", nil))
		if len(vr.Unconfirmed) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("still unconfirmed: %v", vr.Unconfirmed)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !svc.IsAchieved(480, "ACH_WIN_ONE_GAME") || !svc.IsAchieved(480, "ACH_TRAVEL_FAR_ACCUM") {
		t.Fatalf("mutations not applied: %v", svc.Applied())
	}

	if rec := doReq(t, h, http.MethodPost, "/api/terminate", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("terminate: %d", rec.Code)
	}
	deadline = time.Now().Add(3 * time.Second)
	for decode[supervisor.Status](t, doReq(t, h, http.MethodGet, "/api/status", nil)).State != "idle" {
		if time.Now().After(deadline) {
			t.Fatalf("child not reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthAndMetrics(t *testing.T) {
	a := auth.New(&config.AuthConfig{Enabled: true, Tokens: []string{"tok"}})
	h, _ := setupRouter(t, "/api", func(o *Options) {
		o.Auth = a
		o.Metrics = true
	})
	if rec := doReq(t, h, http.MethodGet, "/api/status", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestHubRoute(t *testing.T) {
	h, _ := setupRouter(t, "", nil)
	if rec := doReq(t, h, http.MethodGet, "/ws", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected no /ws without hub, got %d", rec.Code)
	}
	h, _ = setupRouter(t, "", func(o *Options) { o.Hub = view.NewHub(quiet()) })
	// a plain GET is not an upgrade request
	if rec := doReq(t, h, http.MethodGet, "/ws", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-upgrade, got %d", rec.Code)
	}
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(config.ServerConfig{Listen: "127.0.0.1:0"}, http.NotFoundHandler())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.TLSConfig != nil || srv.Addr != "127.0.0.1:0" {
		t.Fatalf("unexpected server: %+v", srv)
	}
	if _, err := NewServer(config.ServerConfig{TLS: &config.TLSConfig{Enabled: true}}, nil); err == nil {
		t.Fatalf("expected TLS setup error")
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "api": "/api", "/api/": "/api", " /x ": "/x"}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
