package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes are the handlers mounted on the public mux. auth and ws are nil
// only in tests.
type routes struct {
	log      Logger
	cfg      Config
	res      *Resources
	registry *prometheus.Registry
	auth     interface{ Register(*http.ServeMux) }
	ws       http.Handler
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		pool := rt.res.Pool
		if rt.cfg.ReadinessRequireDB && pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if pool != nil {
			if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}
		if rt.res.Redis != nil {
			if err := PingRedis(r.Context(), rt.res.Redis, 2*time.Second); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	if rt.auth != nil {
		rt.auth.Register(mux)
	}
	if rt.ws != nil {
		mux.Handle("GET /ws/sessions", rt.ws)
	}
}

// handler applies the middleware chain, outermost first: logging, security
// headers, CORS.
func (rt routes) handler(mux *http.ServeMux) http.Handler {
	var h http.Handler = mux
	h = WithCORS(h, rt.cfg, rt.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, rt.log)
}
