/**
 * @description
 * This is the main entry point for the purchase-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * biller wire adapters, the circuit-breaker state store, message brokers, repositories,
 * the core application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared circuit-breaker state.
 * - internal/api, internal/app, internal/biller, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: Event producer for purchase outcomes.
 * - pkg/riskclient: Client for the risk/config platform.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/velora/purchase-service/internal/api"
	"github.com/velora/purchase-service/internal/app"
	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/config"
	"github.com/velora/purchase-service/internal/store"
	rmrabbit "github.com/velora/purchase-service/pkg/rabbitmq"
	"github.com/velora/purchase-service/pkg/riskclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.RiskServiceURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"risk service url must be configured\" env=RISK_SERVICE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting purchase-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Session reads and writes are short; keep the pool sized for burst traffic.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish purchase events.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.PurchaseEventExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// The circuit-breaker state lives in Redis so every instance sees the
	// same biller health. Without Redis each instance keeps its own view.
	var circuitStore app.CircuitStateStore
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; circuit state is instance-local\" env=REDIS_URL")
		circuitStore = app.NewMemoryCircuitStateStore()
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; circuit state is instance-local\" err=%v", parseErr)
			circuitStore = app.NewMemoryCircuitStateStore()
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; circuit state is instance-local\" err=%v", pingErr)
				redisClient.Close()
				circuitStore = app.NewMemoryCircuitStateStore()
			} else {
				defer redisClient.Close()
				circuitStore = app.NewRedisCircuitStateStore(redisClient, cfg.RedisCircuitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	settings := app.BreakerSettings{
		FailureRatio: cfg.CircuitFailureRatio,
		MinRequests:  cfg.CircuitMinRequests,
		Window:       time.Duration(cfg.CircuitWindowSeconds) * time.Second,
		Cooldown:     time.Duration(cfg.CircuitCooldownSeconds) * time.Second,
		ExecTimeout:  time.Duration(cfg.CircuitExecTimeoutSecs) * time.Second,
	}
	gateway := app.NewCircuitBreakerGateway(circuitStore, settings)

	// Initialize the biller wire adapters and the catalog.
	catalog := biller.NewCatalog(
		biller.NewRocketgateAdapter(cfg.RocketgateBaseURL),
		biller.NewNetbillingAdapter(cfg.NetbillingBaseURL),
		biller.NewEpochAdapter(cfg.EpochBaseURL),
		biller.NewQyssoAdapter(cfg.QyssoBaseURL),
	)

	// Initialize the client for the risk/config platform.
	riskClient := riskclient.NewClient(cfg.RiskServiceURL, cfg.RiskServiceAPIKey)

	// Initialize the orchestration core.
	orchestrator := app.NewTransactionOrchestrator(gateway)
	propagator := app.NewCrossSaleAttemptPropagator(orchestrator)
	orchestrator.SetPropagator(propagator)
	coordinator := app.NewThreeDSecureCoordinator(gateway, propagator, cfg.ThreeDSJWTSecret)
	resolver := app.NewBillerCascadeResolver(catalog, riskClient)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	purchaseService := app.NewService(
		catalog,
		resolver,
		orchestrator,
		coordinator,
		gateway,
		riskClient,
		riskClient,
		riskClient,
		repository,
		producer,
	)
	purchaseService.SetForcedBlacklistOnDecline(cfg.BlacklistOnDeclineForced)
	if cfg.BlacklistOnDeclineForced {
		log.Println("level=info component=bootstrap msg=\"blacklist-on-decline forced for all purchases\"")
	}

	// Initialize the API handlers.
	purchaseHandlers := api.NewPurchaseHandlers(purchaseService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/purchases-api", api.PurchaseRoutes(purchaseHandlers, cfg.InternalAPIKey))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
