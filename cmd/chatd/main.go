// chatd is the Keyhaven messaging server: a WebSocket hub for real-time
// delivery plus a REST API for history, sends, and read receipts. Postgres
// holds the message log, Redis holds last-seen state and rate limits, and
// NATS fans deliveries out across instances. Each of the three backends is
// optional so a single-instance dev setup can run with none of them.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keyhaven/chat-engine/internal/config"
	"github.com/keyhaven/chat-engine/internal/history"
	"github.com/keyhaven/chat-engine/internal/hub"
	"github.com/keyhaven/chat-engine/internal/messaging"
	"github.com/keyhaven/chat-engine/internal/metrics"
	"github.com/keyhaven/chat-engine/internal/ratelimit"
	"github.com/keyhaven/chat-engine/internal/rest"
	"github.com/keyhaven/chat-engine/internal/status"
)

func main() {
	cfg := config.Load()

	// --- Postgres ---
	var historyStore *history.Store
	if cfg.PostgresDSN != "" {
		var err error
		historyStore, err = history.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to open history store: %v", err)
		}
		defer historyStore.Close()
	} else {
		log.Printf("POSTGRES_DSN not set; running without message persistence")
	}

	// --- Redis ---
	var (
		statusStore *status.Store
		limiter     *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		var err error
		statusStore, err = status.NewStore(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer statusStore.Close()
		limiter = ratelimit.NewLimiter(statusStore.Client())
	} else {
		log.Printf("REDIS_ADDR not set; running without last-seen or rate limits")
	}

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.InstanceName
		var err error
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
	} else {
		log.Printf("NATS_URL not set; running single-instance")
	}

	hubConfig := hub.DefaultConfig()
	hubConfig.InstanceName = cfg.InstanceName
	h := hub.New(hubConfig, statusStore, natsClient)
	defer h.Shutdown()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	if historyStore != nil {
		rest.NewHandler(historyStore, h, limiter).Register(r)
	}
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil {
			identity := r.URL.Query().Get("user_id")
			allowed, _ := limiter.Allow(r.Context(), identity, ratelimit.RuleConnect)
			if !allowed {
				http.Error(w, "connection rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		h.HandleWS(w, r)
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Printf("Keyhaven chatd starting")
	log.Printf("  listen_addr:  %s", cfg.ListenAddr)
	log.Printf("  instance:     %s", cfg.InstanceName)
	log.Printf("  postgres:     %v", cfg.PostgresDSN != "")
	log.Printf("  redis:        %v", cfg.RedisAddr != "")
	log.Printf("  nats:         %v", cfg.NATSURL != "")

	server := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server error: %v", err)
	}
}
