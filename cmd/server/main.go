package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"relstore/internal/auth"
	"relstore/internal/config"
	"relstore/internal/engine"
	"relstore/internal/model"
	"relstore/internal/schema"
	"relstore/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s, db: %s)", cfg.Server.Port, cfg.Database.Driver, cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Register entity descriptors
	reg := schema.NewRegistry()
	if err := model.Register(reg); err != nil {
		log.Fatalf("Failed to register entities: %v", err)
	}

	// 4. Ensure tables and junction tables
	migrator := store.NewMigrator(db)
	if err := migrator.EnsureAll(ctx, reg); err != nil {
		log.Fatalf("Failed to migrate tables: %v", err)
	}
	log.Printf("Tables ready (%d entities)", len(reg.AllTables()))

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return uuid.New().String() },
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency} ${locals:requestid}\n",
	}))

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 7. Auth routes (before middleware — no auth required)
	authHandler, err := auth.NewHandler(cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to init auth: %v", err)
	}
	auth.RegisterRoutes(app, authHandler)

	// 8. Entity routes (auth required)
	authMW := auth.Middleware(cfg.Auth.JWTSecret)
	handler := engine.NewHandler(db, reg)
	engine.RegisterEntityRoutes(app, handler, authMW)

	// 9. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
