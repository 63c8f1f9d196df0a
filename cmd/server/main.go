package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // .env loader for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/showgrounds/startnumber-service/internal/config"
	"github.com/showgrounds/startnumber-service/internal/database"
	"github.com/showgrounds/startnumber-service/internal/handler"
	"github.com/showgrounds/startnumber-service/internal/queue"
	"github.com/showgrounds/startnumber-service/internal/repository"
	"github.com/showgrounds/startnumber-service/internal/router"
	"github.com/showgrounds/startnumber-service/internal/service"
)

func main() {
	// In local development the knobs live in a .env file; in prod they
	// come from the real environment and a missing file is fine.
	_ = godotenv.Load()

	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Repositories over the shared pool.
	assignments := repository.NewAssignmentRepo(db)
	rules := repository.NewRuleRepo(db)
	users := repository.NewUserRepo(db)

	// Redis backs the binding cache and the rate limiter; both degrade
	// gracefully when it is absent.
	rdb := config.NewRedisClient()
	bindings := service.NewBindingCache(rdb, cfg.BindingCacheTTL)

	svc := service.NewStartNumberService(
		assignments,
		service.NewRuleResolver(rules),
		service.NewAMQPPublisher(),
		bindings,
	)

	// Audit consumer drains the RabbitMQ queue into the audit log file.
	// It reconnects on its own; a broker outage only delays the trail.
	go func() {
		if err := queue.StartAuditConsumer(); err != nil {
			log.Printf("audit-consumer: %v", err)
		}
	}()

	e := echo.New() // Create Echo instance

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users), cfg.JWTSecret)
	router.RegisterStartNumbers(e,
		handler.NewStartNumberHandler(svc),
		cfg.JWTSecret,
		config.LoadRateLimitConfig(),
		rdb,
	)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
