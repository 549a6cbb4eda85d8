package main

import (
	_ "carflow/api/swagger" // swagger docs
	"carflow/internal/database"
	"carflow/internal/handler"
	"carflow/internal/lock"
	"carflow/internal/middleware"
	"carflow/internal/provider"
	"carflow/internal/repository"
	"carflow/internal/service"
	"carflow/internal/websocket"
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// @title           CarFlow Dealer API
// @version         1.0
// @description     Dealer management backend with PowerOffice Go accounting synchronization.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	dbHost := envOr("DB_HOST", "localhost")
	dbPort := envOr("DB_PORT", "5432")
	dbUser := envOr("DB_USER", "postgres")
	dbPassword := envOr("DB_PASSWORD", "postgres")
	dbName := envOr("DB_NAME", "carflow")
	dbSslMode := envOr("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	// Accounting provider client (PowerOffice Go)
	poClient := provider.NewPowerOfficeClient(
		envOr("POWEROFFICE_API_URL", "https://goapi.poweroffice.net"),
		envOr("POWEROFFICE_AUTH_URL", "https://goapi.poweroffice.net/OAuth"),
		os.Getenv("POWEROFFICE_CLIENT_ID"),
		os.Getenv("POWEROFFICE_CLIENT_SECRET"),
		envOr("POWEROFFICE_REDIRECT_URI", "http://localhost:5173/accounting/callback"),
	)

	// In-flight sync markers; stale entries expire after the default TTL
	syncLocks := lock.NewInMemoryKeeper(lock.DefaultTTL)
	defer syncLocks.Close()

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	contractRepo := repository.NewContractRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	mappingRepo := repository.NewMappingRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	syncLogRepo := repository.NewSyncLogRepository(db)

	userService := service.NewUserService(userRepo)
	contractService := service.NewContractService(contractRepo)
	connectionService := service.NewConnectionService(settingsRepo, poClient)
	mappingService := service.NewMappingService(mappingRepo, catalogRepo, connectionService, poClient, nil)
	syncService := service.NewSyncService(contractRepo, syncLogRepo, mappingRepo, connectionService, poClient, syncLocks, txManager, wsHub, nil, 0)
	syncLogService := service.NewSyncLogService(syncLogRepo)
	retryService := service.NewRetryService(syncLogRepo, syncService)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService)
	contractHandler := handler.NewContractHandler(contractService, syncService)
	accountingHandler := handler.NewAccountingHandler(connectionService, mappingService)
	syncLogHandler := handler.NewSyncLogHandler(syncLogService, retryService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:5174"} // Frontend URL
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	userHandler.RegisterRoutes(router.Group(""))
	contractHandler.RegisterRoutes(router.Group(""))
	accountingHandler.RegisterRoutes(router.Group(""))
	syncLogHandler.RegisterRoutes(router.Group(""))

	port := envOr("PORT", "8080")

	log.Printf("Server starting on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
