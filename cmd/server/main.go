package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omnirelay/internal/app"
	"omnirelay/internal/config"
	"omnirelay/internal/metrics"
	"omnirelay/internal/relay"
	"omnirelay/internal/service"
	"omnirelay/internal/transport/rest"
	"omnirelay/internal/transport/ws"
)

func main() {
	log.Println("started")
	ctx := context.Background()
	cfg := config.Load()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open identity store: ", err)
	}
	defer a.Close()

	if err := a.ConnectBroker(ctx, cfg); err != nil {
		log.Fatal("Failed to connect broker: ", err)
	}

	// No host survives a restart, so scopes left in the store are stale
	if err := a.Lifecycle.Reset(ctx); err != nil {
		log.Fatal("Failed to reset lifecycle: ", err)
	}

	authSvc, err := service.NewAuthService(cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret)
	if err != nil {
		log.Fatal("Failed to init admin auth: ", err)
	}

	metrics.Start(cfg.MetricsTick)

	hostname, _ := os.Hostname()
	connCtx, stopConns := context.WithCancel(ctx)
	defer stopConns()

	wsHandler := ws.NewHandler(connCtx, relay.New(a.Identity, a.Lifecycle, a.Broker, "relay."+hostname), cfg.AllowedOrigins)

	container := &rest.Container{
		AuthService:     authSvc,
		IdentityService: a.Identity,
		Lifecycle:       a.Lifecycle,
		Broker:          a.Broker,
		WSHandler:       wsHandler,
		AllowedOrigins:  cfg.AllowedOrigins,
	}

	router := rest.NewRouter(container)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.HTTPPort)
		log.Printf("Store=%s Broker=%s Lifecycle=%s", cfg.Store, cfg.Broker, cfg.Lifecycle)
		log.Println("Endpoints:")
		log.Println("  WS  /ws")
		log.Println("  POST /v1/auth/login")
		log.Println("  GET/POST /v1/services")
		log.Println("  GET/PUT/DELETE /v1/services/{hostToken}")
		log.Println("  GET  /v1/services/{hostToken}/live")
		log.Println("  GET  /v1/metrics")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Server forced to shutdown:", err)
	}

	// Hijacked websockets are not tracked by Shutdown
	log.Printf("Closing %d websocket connections", metrics.Count("websockets"))
	stopConns()
	if err := wsHandler.Wait(shutdownCtx); err != nil {
		log.Println("Connections did not finish teardown:", err)
	}

	log.Println("Server exited")
}
