package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outagebot/internal/pipeline"
	rtsup "outagebot/internal/runtime/supervisor"
	logx "outagebot/pkg/logx"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	last *pipeline.Report
	err  error
	ran  chan struct{}
}

func newFakeRunner() *fakeRunner { return &fakeRunner{ran: make(chan struct{}, 8)} }

func (f *fakeRunner) Run(_ context.Context, provider string) (pipeline.Report, error) {
	f.mu.Lock()
	f.runs = append(f.runs, provider)
	rep := pipeline.Report{RunID: "run-1", Provider: provider, Changed: true, Added: 2}
	if f.err != nil {
		rep.Err = f.err.Error()
	}
	f.last = &rep
	err := f.err
	f.mu.Unlock()
	f.ran <- struct{}{}
	return rep, err
}

func (f *fakeRunner) LastReport() (pipeline.Report, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return pipeline.Report{}, false
	}
	return *f.last, true
}

type fixedNext struct{ at time.Time }

func (n fixedNext) NextRun(name string) (time.Time, bool) {
	if name != "fetch.zakarpattia" {
		return time.Time{}, false
	}
	return n.at, true
}

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, cfg Config, runner Runner) *Handler {
	t.Helper()
	sup := rtsup.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return NewHandler(cfg, Deps{
		Runner:       runner,
		Schedule:     fixedNext{at: now.Add(5 * time.Minute)},
		Provider:     "Zakarpattia",
		ScheduleName: "fetch.zakarpattia",
		Supervisors:  func() map[string][]rtsup.Stats { return map[string][]rtsup.Stats{"app": sup.Snapshot()} },
		Now:          func() time.Time { return now },
	}, sup, logx.Nop())
}

func do(h http.Handler, method, target string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzBeforeFirstRun(t *testing.T) {
	h := newTestHandler(t, Config{}, newFakeRunner())
	rec := do(h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "Zakarpattia", body.Provider)
	assert.Nil(t, body.LastRun)
	require.NotNil(t, body.NextRun)
	assert.True(t, body.NextRun.Equal(now.Add(5*time.Minute)))
	assert.Contains(t, body.Supervisors, "app")
}

func TestHealthzReportsFailedRunAsDegraded(t *testing.T) {
	r := newFakeRunner()
	r.err = errors.New("fetch failed: status 502")
	_, _ = r.Run(context.Background(), "Zakarpattia")

	rec := do(newTestHandler(t, Config{}, r), http.MethodGet, "/healthz")
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	require.NotNil(t, body.LastRun)
	assert.Equal(t, "fetch failed: status 502", body.LastRun.Err)
}

func TestFetchTriggersInBackgroundAndThrottles(t *testing.T) {
	r := newFakeRunner()
	h := newTestHandler(t, Config{FetchMinInterval: time.Hour}, r)

	rec := do(h, http.MethodPost, "/fetch")
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-r.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not happen")
	}

	rec = do(h, http.MethodGet, "/fetch")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	h.SetFetchInterval(time.Hour)
	rec = do(h, http.MethodGet, "/fetch")
	assert.Equal(t, http.StatusAccepted, rec.Code, "new interval starts with a fresh token")
	<-r.ran
}

func TestFetchWaitReturnsReport(t *testing.T) {
	r := newFakeRunner()
	rec := do(newTestHandler(t, Config{}, r), http.MethodPost, "/fetch?wait=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "Zakarpattia", rep.Provider)
	assert.Equal(t, 2, rep.Added)

	r2 := newFakeRunner()
	r2.err = errors.New("persistence failed")
	rec = do(newTestHandler(t, Config{}, r2), http.MethodPost, "/fetch?wait=true")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestFetchWithoutRunner(t *testing.T) {
	rec := do(newTestHandler(t, Config{}, nil), http.MethodPost, "/fetch")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTokenAuth(t *testing.T) {
	h := newTestHandler(t, Config{Token: "s3cret"}, newFakeRunner())

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/healthz?token=nope").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/healthz", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz?token=s3cret").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "Authorization", "Bearer s3cret").Code)
}

func TestPprofIsOptIn(t *testing.T) {
	off := newTestHandler(t, Config{}, nil)
	assert.Equal(t, http.StatusNotFound, do(off, http.MethodGet, "/debug/pprof/").Code)

	on := newTestHandler(t, Config{Pprof: true}, nil)
	assert.Equal(t, http.StatusOK, do(on, http.MethodGet, "/debug/pprof/").Code)
}

func TestServiceLifecycle(t *testing.T) {
	r := newFakeRunner()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Runner: r, Provider: "Zakarpattia"}, logx.Nop())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Stop(sctx)
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())
}

func TestServiceRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8085"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":8085"))
	assert.False(t, isLoopbackAddr("10.0.0.1:8085"))
	assert.False(t, isLoopbackAddr("garbage"))
}
