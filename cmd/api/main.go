package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"idgate.org/internal/audit"
	"idgate.org/internal/config"
	"idgate.org/internal/httpapi"
	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/store/memory"
	"idgate.org/internal/store/pg"
	"idgate.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.MustLoad()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	hasher := identity.NewBcryptHasher(cfg.Auth.BcryptCost)

	// Persistent store when a DSN is configured, in-memory otherwise.
	var (
		store identity.Store
		ready httpapi.ReadyProbe
	)
	if cfg.DB.DSN != "" {
		pgStore, err := pg.Open(cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		ready = httpapi.ReadyProbe{Ping: pgStore.Ping}
	} else {
		mem := memory.New()
		if err := mem.Bootstrap(hasher, os.Getenv("IDGATE_ADMIN_PASSWORD")); err != nil {
			log.Fatalf("bootstrap store: %v", err)
		}
		store = mem
		log.Print("no IDGATE_PG_DSN set, using the in-memory store")
	}

	codecOpts := []identity.CodecOption{
		identity.WithIssuer(cfg.Tokens.Issuer),
		identity.WithAccessTTL(cfg.Tokens.AccessTTL),
		identity.WithRefreshTTL(cfg.Tokens.RefreshTTL),
	}
	if cfg.Tokens.RefreshSecret != "" {
		codecOpts = append(codecOpts, identity.WithRefreshSecret(cfg.Tokens.RefreshSecret))
	}
	codec, err := identity.NewCodec(cfg.Tokens.AccessSecret, codecOpts...)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	events := stream.New()
	auditor := audit.NewSink(events)

	sessions, err := identity.NewSessionManager(store, hasher, codec,
		identity.WithAuditor(auditor))
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	roles, err := identity.NewRoleService(store,
		identity.WithRoleAuditor(auditor))
	if err != nil {
		log.Fatalf("role service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Version:       version,
		Ready:         ready,
		Sessions:      sessions,
		Roles:         roles,
		Codec:         codec,
		Events:        events,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		RateBurst:     cfg.HTTP.RateBurst,
		RatePerSecond: cfg.HTTP.RatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Printf("Starting idgate-api %s on %s (env=%s)", version, srv.Addr, cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Optional gRPC health endpoint alongside HTTP.
	var grpcSrv = httpapi.NewGRPCServer(ready)
	if cfg.GRPC.Address != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		log.Printf("Starting gRPC health on %s", cfg.GRPC.Address)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	log.Println("Stopped")
}
