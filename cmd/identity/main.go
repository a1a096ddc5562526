package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"taskstream.org/internal/auth"
	"taskstream.org/internal/config"
	"taskstream.org/internal/events"
	"taskstream.org/internal/httpapi"
	"taskstream.org/internal/identity"
	"taskstream.org/internal/obs"
	"taskstream.org/internal/propagation"
	"taskstream.org/internal/session"
	"taskstream.org/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenTTL, cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	// Credential directory. Without a DSN the service runs on an
	// in-process directory, which is only useful for local development.
	var (
		db        *sql.DB
		directory identity.Directory
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		directory = identity.NewPGDirectory(db)
	} else {
		log.Println("no TASKSTREAM_PG_DSN set, using in-memory user directory")
		directory = identity.NewMemoryDirectory()
	}

	// Session store.
	var (
		sessions    session.Store
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		sessions = session.NewRedisStore(redisClient)
	} else {
		log.Println("no TASKSTREAM_REDIS_ADDR set, using in-memory session store")
		sessions = session.NewMemoryStore()
	}

	// Event bus.
	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		bus, err := events.NewBus(cfg.NATSURL)
		if err != nil {
			log.Fatalf("connect nats: %v", err)
		}
		defer bus.Close()
		publisher = bus
	}

	// Identity propagation policy for internal calls; constructed here so
	// a misconfigured policy fails at startup, not at first call.
	policy, err := propagation.ParsePolicy(cfg.PropagationPolicy)
	if err != nil {
		log.Fatalf("propagation: %v", err)
	}
	propagator, err := propagation.NewPropagator(policy, cfg.PropagationSecret, 0)
	if err != nil {
		log.Fatalf("propagation: %v", err)
	}
	log.Printf("identity propagation policy: %s", policy)

	svc := auth.NewService(issuer, sessions, directory, publisher)

	probe := httpapi.ReadyProbe{DB: db}
	if redisClient != nil {
		probe.Ping = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	api := httpapi.New(probe, version, svc, issuer, propagator)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting taskstream-identity %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Println("Stopped")
}
