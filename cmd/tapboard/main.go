package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tapboard/internal/api"
	"tapboard/internal/auth"
	"tapboard/internal/catalog"
	"tapboard/internal/config"
	"tapboard/internal/hub"
	"tapboard/internal/session"
	"tapboard/internal/state"
	"tapboard/internal/store"
	"tapboard/internal/websocket"
)

// Application coordinates all components. Initialization order follows the
// dependency chain: store → board → gate → registry → hub → sessions →
// handlers → HTTP server.
type Application struct {
	config     *config.Config
	store      *store.Store
	board      *state.Board
	hub        *hub.Hub
	httpServer *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// A reachable store is a startup requirement; without it there is no
	// authoritative state to serve.
	st, err := store.New(cfg.Redis.Addr, cfg.Redis.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	board := state.NewBoard(cfg.Board.Capacity, st)
	if err := board.Load(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load board state: %w", err)
	}

	gate := auth.NewGate(st, cfg.Board.AdminCodeHash)
	registry := websocket.NewRegistry()

	beers := catalog.Load(cfg.Board.BeersFile)

	broadcaster := hub.NewHub(registry, board, gate, st, beers)
	board.SetBroadcaster(broadcaster)

	sessions := session.NewManager(cfg.Board.CookieSecret)
	wsHandler := websocket.NewHandler(broadcaster, sessions, cfg.WebSocket)
	apiServer := api.NewServer(board, gate, sessions, broadcaster, st, registry, cfg.Board.EnableAPI)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/users", apiServer)
	mux.Handle("/logout", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      st,
		board:      board,
		hub:        broadcaster,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub loop, then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting tapboard on %s", app.httpServer.Addr)

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Println("Tapboard started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP → hub → store.
func (app *Application) Stop(ctx context.Context) error {
	log.Println("Shutting down tapboard")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.hub.Stop(); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Println("Tapboard shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.LoadConfigWithPrecedence(os.Getenv("TAPBOARD_CONFIG_FILE"))

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return app.Stop(shutdownCtx)
	}
}
