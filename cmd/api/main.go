package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/messaging-backend/internal/cache"
	"github.com/shinyyama/messaging-backend/internal/config"
	"github.com/shinyyama/messaging-backend/internal/db"
	appmw "github.com/shinyyama/messaging-backend/internal/middleware"
	"github.com/shinyyama/messaging-backend/internal/push"
	"github.com/shinyyama/messaging-backend/internal/server"
)

// Set at build time with -ldflags "-X main.gitSHA=... -X main.buildTime=...".
var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			log.Printf("db close error: %v", err)
		}
	}()

	authMw, err := appmw.NewAuthMiddleware(ctx, cfg.FirebaseProjectID, cfg.GoogleCredentialsFile, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}
	authMw.SetAdmins(cfg.AdminUIDs)

	var c cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, using in-process cache: %v", err)
		} else {
			c = rc
		}
	}
	defer c.Close()

	srv := server.New(server.Deps{
		Client:    client,
		Auth:      authMw,
		Pusher:    newDispatcher(ctx, cfg),
		Cache:     c,
		SHA:       gitSHA,
		BuildTime: buildTime,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on %s (store=%s)", addr, cfg.StoreDriver)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config) *push.Dispatcher {
	d := &push.Dispatcher{}
	if cfg.FirebaseProjectID != "" {
		fcm, err := push.NewFCMSender(ctx, cfg.FirebaseProjectID, cfg.GoogleCredentialsFile)
		if err != nil {
			log.Printf("fcm disabled: %v", err)
		} else {
			d.FCM = fcm
		}
	}
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		d.Web = &push.WebPushSender{
			Subscriber: cfg.VAPIDSubscriber,
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
		}
	}
	if d.FCM == nil && d.Web == nil {
		return nil
	}
	return d
}
