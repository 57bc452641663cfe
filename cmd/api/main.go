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

	"stepauth.org/internal/auth"
	"stepauth.org/internal/challenge"
	"stepauth.org/internal/httpapi"
	"stepauth.org/internal/obs"
	"stepauth.org/internal/passkey"
)

var version = "0.1.0"

func main() {
	obs.Init()

	secret := os.Getenv("STEPAUTH_JWT_SECRET")
	if secret == "" {
		log.Fatal("STEPAUTH_JWT_SECRET is required")
	}

	addr := envDefault("STEPAUTH_ADDR", ":8080")
	rpID := envDefault("STEPAUTH_RP_ID", "localhost")
	rpName := envDefault("STEPAUTH_RP_NAME", "StepAuth")
	rpOrigin := envDefault("STEPAUTH_RP_ORIGIN", "http://localhost:8080")

	// Postgres-backed store when a DSN is present, in-memory otherwise (dev).
	var (
		db    *sql.DB
		store auth.Store
	)
	if dsn := os.Getenv("STEPAUTH_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Println("STEPAUTH_PG_DSN not set, using in-memory store")
		store = auth.NewMemStore()
	}

	// Redis-backed challenge cache when an address is present; single-node
	// deployments run fine on the in-memory cache.
	var cache challenge.Cache
	if redisAddr := os.Getenv("STEPAUTH_REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		cache = challenge.NewRedis(client)
	} else {
		log.Println("STEPAUTH_REDIS_ADDR not set, using in-memory challenge cache")
		cache = challenge.NewMemory()
	}

	var issuerOpts []auth.IssuerOption
	if ttl := durationEnv("STEPAUTH_TOKEN_TTL"); ttl > 0 {
		issuerOpts = append(issuerOpts, auth.WithTokenTTL(ttl))
	}
	issuer, err := auth.NewIssuer(secret, issuerOpts...)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	users := auth.NewService(store, issuer)

	challengeTTL := durationEnv("STEPAUTH_CHALLENGE_TTL")
	if challengeTTL <= 0 {
		challengeTTL = challenge.DefaultTTL
	}
	rp, err := passkey.NewRelyingParty(passkey.Config{
		RPID:            rpID,
		RPName:          rpName,
		RPOrigin:        rpOrigin,
		CeremonyTimeout: challengeTTL,
	})
	if err != nil {
		log.Fatalf("relying party: %v", err)
	}
	passkeys := passkey.NewOrchestrator(rp, cache, store,
		passkey.WithChallengeTTL(challengeTTL))

	api := httpapi.New(users, issuer, passkeys, store,
		httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithAllowedOrigins(rpOrigin))

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting stepauth-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
