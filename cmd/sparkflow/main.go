package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sparkflowhq/sparkflow/app/controllers"
	"github.com/sparkflowhq/sparkflow/internal/pkg/cache"
	"github.com/sparkflowhq/sparkflow/internal/pkg/constants"
	"github.com/sparkflowhq/sparkflow/internal/pkg/credits"
	"github.com/sparkflowhq/sparkflow/internal/pkg/database"
	"github.com/sparkflowhq/sparkflow/internal/pkg/env"
	"github.com/sparkflowhq/sparkflow/internal/pkg/generator"
	"github.com/sparkflowhq/sparkflow/internal/pkg/payments"
	"github.com/sparkflowhq/sparkflow/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Explicitly constructed clients, injected into the controllers.
	priceTable := credits.NewPriceTableFromEnv()
	creditsService := credits.NewServiceFromDB(database.GetDB(), priceTable)
	stripeClient := payments.NewClientFromEnv()

	geminiKey := env.GetEnv("GEMINI_API_KEY", "")
	if geminiKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is not set")
	}
	genService, err := generator.NewService(context.Background(), geminiKey, env.GetEnv("GEMINI_MODEL", generator.DefaultModel))
	if err != nil {
		log.Fatalf("Failed to initialize generator: %v", err)
	}

	controllers.InitializeScriptController(creditsService, genService)
	controllers.InitializeBillingController(creditsService, stripeClient)

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/sparkflow to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // 1 MiB, JSON bodies only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
