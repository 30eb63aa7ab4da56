package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rtslockstep/internal/config"
	"rtslockstep/internal/peerchannel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServerConfig configures the relay's HTTP surface. Mirrors the teacher's
// RouterConfig dependency-injection shape, trimmed to what the relay
// actually needs.
type ServerConfig struct {
	// CORSOrigins defaults to "*" if empty — the relay has no cookies or
	// credentials to leak, unlike the teacher's admin panel.
	CORSOrigins []string

	// RateLimit tunes the /ws upgrade limiter. Zero value falls back to
	// config.DefaultRelay()'s bounds.
	RateLimit config.RelayConfig
}

// NewServer builds the chi router for the signalling relay: /ws for the
// websocket upgrade, /healthz and /metrics for operability, guarded by the
// same rate-limit-before-CORS ordering as the teacher's NewRouter.
func NewServer(hub *Hub, cfg ServerConfig) (*chi.Mux, *IPRateLimiter) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	rateCfg := cfg.RateLimit
	if rateCfg.RequestsPerSecond == 0 {
		rateCfg = config.DefaultRelay()
	}
	limiter := NewIPRateLimiterWithConfig(rateCfg)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != "/ws" {
				next.ServeHTTP(w, req)
				return
			}
			if !limiter.Allow(clientIP(req)) {
				connectionRejectedTotal.WithLabelValues("rate_limit").Inc()
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/ws", handleUpgrade(hub))
	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r, limiter
}

func handleUpgrade(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			connectionRejectedTotal.WithLabelValues("origin").Inc()
			return
		}
		hub.Connect(peerchannel.NewWSChannel(conn))
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
