package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/duelpoint/backend/internal/config"
	"github.com/duelpoint/backend/internal/database"
	"github.com/duelpoint/backend/internal/handlers"
	mW "github.com/duelpoint/backend/internal/middleware"
	"github.com/duelpoint/backend/internal/services"
	"github.com/duelpoint/backend/internal/store"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("duel.waiting_window", "DUEL_WAITING_WINDOW")
	viper.BindEnv("duel.countdown_window", "DUEL_COUNTDOWN_WINDOW")
	viper.BindEnv("duel.sweep_interval", "DUEL_SWEEP_INTERVAL")
	viper.BindEnv("duel.starting_balance", "DUEL_STARTING_BALANCE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	duelCfg := config.LoadDuelConfig()

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	duelStore := store.NewPostgresDuelStore(db)
	ledgerStore := store.NewPostgresLedgerStore(db)

	// Wire the engine
	ledger := services.NewLedgerService(ledgerStore, duelCfg.StartingBalance)
	resolver := services.NewOutcomeResolver(nil)

	dispatchers := services.MultiDispatcher{services.NewFanoutDispatcher()}
	if redisClient != nil {
		dispatchers = append(dispatchers, services.NewRedisDispatcher(redisClient, "duel.events"))
	}

	engine := services.NewDuelEngine(duelStore, ledger, resolver, dispatchers, duelCfg)

	scheduler := services.NewDuelScheduler(engine, duelStore, duelCfg.SweepInterval)
	engine.SetTimers(scheduler)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	duelHandler := handlers.NewDuelHandler(engine, ledger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/duels", duelHandler.CreateDuel)
		r.Get("/duels", duelHandler.ListDuels)
		r.Get("/duels/{duelId}", duelHandler.GetDuel)
		r.Post("/duels/{duelId}/join", duelHandler.JoinDuel)
		r.Post("/duels/{duelId}/resolve", duelHandler.ResolveDuel)
		r.Post("/duels/{duelId}/cancel", duelHandler.CancelDuel)

		r.Get("/accounts/{participantId}/balance", duelHandler.GetBalance)
		r.Get("/leaderboard", duelHandler.Leaderboard)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
