package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcore/internal/archive"
	"chatcore/internal/bridge"
	"chatcore/internal/config"
	"chatcore/internal/core"
	"chatcore/internal/events"
	"chatcore/internal/redis"
	"chatcore/internal/session"
	"chatcore/internal/transport"
	chaterrors "chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

// wireSender stands in for the XMPP wire layer: outgoing messages are
// logged until a connection manager is attached.
type wireSender struct {
	log *logger.Logger
}

func (w wireSender) Send(account string, msg transport.OutgoingMessage) error {
	w.log.Infof("outgoing %s message for %s to %s (%d bytes)",
		msg.Type, account, msg.JID.String(), len(msg.Text))
	return nil
}

func main() {
	cfg := config.Load()

	mode := logger.DevelopmentMode
	if cfg.AppMode == "release" || cfg.AppMode == "production" {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)

	var arch session.Archiver
	store, err := archive.Open(cfg.ArchivePath, l)
	switch {
	case err == nil:
		arch = store
		defer store.Close()
	case err == chaterrors.ErrArchiveDisabled:
		l.Warnf("no archive path configured, history persistence disabled")
	default:
		l.Errorf("failed to open archive: %v", err)
		os.Exit(1)
	}

	engine := core.New(cfg, arch, wireSender{log: l}, l)
	go engine.Run()

	redisClient, err := redis.NewClient(cfg)
	if err != nil {
		l.Errorf("failed to connect to redis: %v", err)
		os.Exit(1)
	}
	var limiter *redis.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()
		limiter = redis.NewRateLimiter(redisClient, redis.DefaultRateLimitConfig())

		mirror := events.NewRedisMirror(redisClient, l)
		mirror.Attach(engine.Bus())
		defer mirror.Detach()
	}

	tokens, err := bridge.NewTokenService(cfg)
	if err != nil {
		l.Errorf("bridge pairing not configured: %v", err)
		os.Exit(1)
	}

	srv := bridge.New(cfg, engine, tokens, store, limiter, l)
	go func() {
		if err := srv.Start(); err != nil {
			l.Errorf("bridge server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	l.Infof("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Errorf("bridge shutdown error: %v", err)
	}
	engine.Stop()
	l.Infof("stopped gracefully")
}
