package ops

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outagebot/internal/pipeline"
	rtsup "outagebot/internal/runtime/supervisor"
	logx "outagebot/pkg/logx"
)

// Runner triggers and reports pipeline runs.
type Runner interface {
	Run(ctx context.Context, provider string) (pipeline.Report, error)
	LastReport() (pipeline.Report, bool)
}

// NextRunner reports when a named schedule fires next.
type NextRunner interface {
	NextRun(name string) (time.Time, bool)
}

type Deps struct {
	Runner       Runner
	Schedule     NextRunner
	Provider     string
	ScheduleName string
	// Supervisors lists runtime goroutine stats by component (optional).
	Supervisors func() map[string][]rtsup.Stats
	Now         func() time.Time
}

// Handler serves /healthz, /fetch and optionally /debug/pprof/.
type Handler struct {
	deps Deps
	log  logx.Logger
	sup  *rtsup.Supervisor
	mux  *http.ServeMux

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewHandler(cfg Config, deps Deps, sup *rtsup.Supervisor, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &Handler{deps: deps, log: log, sup: sup, mux: http.NewServeMux()}
	h.SetFetchInterval(cfg.FetchMinInterval)

	wrap := func(fn http.HandlerFunc) http.Handler { return withAuth(cfg.Token, fn) }
	h.mux.Handle("GET /healthz", wrap(h.healthz))
	h.mux.Handle("GET /fetch", wrap(h.fetch))
	h.mux.Handle("POST /fetch", wrap(h.fetch))
	if cfg.Pprof {
		h.mux.Handle("/debug/pprof/", wrap(hpprof.Index))
		h.mux.Handle("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		h.mux.Handle("/debug/pprof/profile", wrap(hpprof.Profile))
		h.mux.Handle("/debug/pprof/symbol", wrap(hpprof.Symbol))
		h.mux.Handle("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

// SetFetchInterval replaces the /fetch throttle. The next request is allowed
// immediately.
func (h *Handler) SetFetchInterval(d time.Duration) {
	if d <= 0 {
		d = defaultFetchMinInterval
	}
	h.mu.Lock()
	h.limiter = rate.NewLimiter(rate.Every(d), 1)
	h.mu.Unlock()
}

type healthResponse struct {
	Status      string                   `json:"status"`
	Provider    string                   `json:"provider"`
	Now         time.Time                `json:"now"`
	LastRun     *pipeline.Report         `json:"last_run,omitempty"`
	NextRun     *time.Time               `json:"next_run,omitempty"`
	Supervisors map[string][]rtsup.Stats `json:"supervisors,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Provider: h.deps.Provider, Now: h.deps.Now()}
	if h.deps.Runner != nil {
		if rep, ok := h.deps.Runner.LastReport(); ok {
			resp.LastRun = &rep
			if rep.Err != "" {
				resp.Status = "degraded"
			}
		}
	}
	if h.deps.Schedule != nil {
		if next, ok := h.deps.Schedule.NextRun(h.deps.ScheduleName); ok {
			resp.NextRun = &next
		}
	}
	if h.deps.Supervisors != nil {
		resp.Supervisors = h.deps.Supervisors()
	}
	writeJSON(w, http.StatusOK, resp)
}

// fetch triggers a run in the background and answers 202. With ?wait=1 it
// runs inline and answers with the run report.
func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "runner not configured"})
		return
	}

	h.mu.Lock()
	res := h.limiter.Reserve()
	h.mu.Unlock()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "fetch throttled"})
		return
	}

	provider := h.deps.Provider
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		rep, err := h.deps.Runner.Run(r.Context(), provider)
		status := http.StatusOK
		if err != nil {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, rep)
		return
	}

	run := func(ctx context.Context) error {
		if _, err := h.deps.Runner.Run(ctx, provider); err != nil {
			h.log.Warn("triggered run failed", logx.String("provider", provider), logx.Err(err))
		}
		return nil
	}
	if h.sup != nil {
		h.sup.Go("fetch.trigger", run)
	} else {
		go func() { _ = run(context.Background()) }()
	}
	h.log.Info("fetch triggered", logx.String("provider", provider), logx.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "provider": provider})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Authorization: Bearer <token> or ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
