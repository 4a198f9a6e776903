package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agendaciudadana/citas/internal/booking"
	"github.com/agendaciudadana/citas/internal/handlers"
	"github.com/agendaciudadana/citas/internal/ledger"
	"github.com/agendaciudadana/citas/internal/outbox"
	"github.com/agendaciudadana/citas/internal/storage"
	"github.com/agendaciudadana/citas/libs/auth"
	"github.com/agendaciudadana/citas/libs/config"
	"github.com/agendaciudadana/citas/libs/db"
	"github.com/agendaciudadana/citas/libs/httpx"
	"github.com/agendaciudadana/citas/libs/kafkax"
	otelx "github.com/agendaciudadana/citas/libs/otel"
	"github.com/agendaciudadana/citas/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "citas-api")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 10)))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	apptRepo := storage.NewAppointmentRepository(pool)
	catalogRepo := storage.NewCatalogRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	slotLedger := ledger.NewSlotLedger()
	bookingSvc := booking.NewService(slotLedger, apptRepo, outboxRepo, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(bookingSvc, logger)
	catalogHandler := handlers.NewCatalogHandler(catalogRepo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	mux.HandleFunc("GET /api/v1/offices", catalogHandler.ListOffices)
	mux.HandleFunc("GET /api/v1/offices/{id}", catalogHandler.GetOffice)
	mux.HandleFunc("GET /api/v1/offices/{id}/availability", catalogHandler.OfficeAvailability)
	mux.HandleFunc("GET /api/v1/procedures", catalogHandler.ListProcedures)
	mux.HandleFunc("GET /api/v1/procedures/{id}", catalogHandler.GetProcedure)
	mux.HandleFunc("GET /api/v1/procedures/{id}/availability", catalogHandler.ProcedureAvailability)

	jwtSecret := config.String("JWT_SECRET", "dev-secret")
	var jwksClient *auth.JWKSClient
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		ttl := time.Duration(config.Int("JWKS_CACHE_SECONDS", 300)) * time.Second
		jwksClient = auth.NewJWKSClient(jwksURL, ttl)
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return requireAuth(h, jwtSecret, jwksClient)
	}
	mux.Handle("POST /api/v1/appointments", authed(bookingHandler.Create))
	mux.Handle("GET /api/v1/appointments", authed(bookingHandler.List))
	mux.Handle("GET /api/v1/appointments/{id}", authed(bookingHandler.Get))
	mux.Handle("PUT /api/v1/appointments/{id}", authed(bookingHandler.Reschedule))
	mux.Handle("PUT /api/v1/appointments/{id}/confirm", authed(bookingHandler.Confirm))
	mux.Handle("DELETE /api/v1/appointments/{id}", authed(bookingHandler.Cancel))
	mux.Handle("GET /api/v1/appointments/{id}/status", authed(bookingHandler.Status))

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
