package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/inference"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/logger"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	handler "github.com/xiaot623/gogo/chatrelay/internal/transport/http"
	"github.com/xiaot623/gogo/chatrelay/internal/transport/rpc"
	"github.com/xiaot623/gogo/chatrelay/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	log.Info("starting chatrelay",
		"http_port", cfg.HTTPPort,
		"internal_port", cfg.InternalPort,
		"gateway", cfg.GatewayURL,
		"object_store", cfg.ObjectStore,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to initialize store", "err", err)
	}
	defer db.Close()

	objects, err := objectstore.New(ctx, objectstore.Options{
		Backend:         cfg.ObjectStore,
		LocalDir:        cfg.LocalStorageDir,
		LocalBaseURL:    cfg.LocalStorageBaseURL,
		GCSBucket:       cfg.GCSBucket,
		CredentialsFile: cfg.GCSCredentialsFile,
	})
	if err != nil {
		log.Fatal("failed to initialize object store", "err", err)
	}
	if closer, ok := objects.(io.Closer); ok {
		defer closer.Close()
	}

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatal("failed to initialize policy engine", "err", err)
	}

	gateway := inference.NewGateway(cfg.GatewayMode, cfg.GatewayTimeout, log)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.AccessTokenTTL)

	// Uploads run on their own context so in-flight attachments finish
	// after the servers stop accepting frames.
	uploader := service.NewAttachmentUploader(db, objects, cfg.AttachmentWorkers, cfg.AttachmentQueueSize, log.WithPrefix("uploader"))
	uploader.Start(context.Background())
	go func() {
		failed := 0
		for err := range uploader.Errors() {
			failed++
			log.Debug("attachment upload failed", "err", err, "total_failed", failed)
		}
	}()

	svc := service.New(db, gateway, objects, tokens, policyEngine, uploader, cfg, log)

	// The hub outlives the servers so pumps can still unregister while the
	// servers drain.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	connectionHub := hub.NewHub(log.WithPrefix("hub"))
	go connectionHub.Run(hubCtx)

	wsServer := ws.NewServer(ctx, cfg, connectionHub, svc, log.WithPrefix("ws"))
	externalServer := handler.NewExternalServer(svc, wsServer, cfg, log.WithPrefix("http"))
	internalServer := handler.NewInternalServer(connectionHub, log.WithPrefix("internal"))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := externalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start external server", "err", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start internal server", "err", err)
		}
	}()

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(connectionHub, log.WithPrefix("rpc"))
		if err != nil {
			log.Fatal("failed to initialize rpc server", "err", err)
		}
		if err := rpcServer.Listen(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
			log.Fatal("failed to start rpc server", "err", err)
		}
		go func() {
			if err := rpcServer.Serve(); err != nil {
				log.Error("rpc server stopped", "err", err)
			}
		}()
	}

	log.Info("servers started", "http_port", cfg.HTTPPort, "internal_port", cfg.InternalPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down chatrelay")

	// Cancelling the base context aborts in-flight gateway calls.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown external server gracefully", "err", err)
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown internal server gracefully", "err", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown rpc server gracefully", "err", err)
		}
	}
	stopHub()
	uploader.Stop()

	log.Info("chatrelay stopped")
}
