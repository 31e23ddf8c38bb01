package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/encoder"
	"classattend/internal/enrollment"
	"classattend/internal/handler"
	"classattend/internal/httpmiddleware"
	"classattend/internal/matcher"
	"classattend/internal/queue"
	"classattend/internal/registry"
	"classattend/internal/schedule"
	"classattend/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisDB)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classattend:attendance")
	}

	enc, closeEnc, err := newEncoder(cfg)
	if err != nil {
		return err
	}
	defer closeEnc()

	students := registry.NewService(registry.NewRepository(db.Client), enc)
	if err := students.LoadSnapshot(ctx); err != nil {
		return err
	}
	gallery, _ := students.Snapshot()
	log.Printf("face gallery loaded: %d reference embeddings", len(gallery))

	courses := schedule.NewService(schedule.NewRepository(db.Client))
	enrollments := enrollment.NewRepository(db.Client)
	recorder := attendance.NewService(attendance.NewRepository(db.Client), cfg.LateAfter)
	index := matcher.NewIndex(cfg.IndexFloor)

	h := handler.New(students, courses, enrollments, recorder, enc, index, q, cfg.MatchTolerance)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(rateLimiter(ctx, cfg, redisClient))
	r.Use(httpmiddleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// rateLimiter picks the cross-instance redis window when redis is up,
// the in-process token bucket otherwise (and always for the in-memory
// queue setup, which is a single-instance dev deployment anyway).
func rateLimiter(ctx context.Context, cfg config.App, redisClient *store.Redis) gin.HandlerFunc {
	if cfg.QueueBackend == "memory" || !redisClient.Healthy(ctx) {
		log.Println("rate limiter: in-process token bucket")
		return httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware()
	}
	return httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin).GinMiddleware()
}

// newEncoder selects the face encoding backend. The grid encoder is the
// dev default; dlib needs its model files on disk.
func newEncoder(cfg config.App) (encoder.Encoder, func(), error) {
	if cfg.EncoderBackend == "dlib" {
		d, err := encoder.NewDlib(cfg.ModelDir, cfg.EncoderStrict)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("dlib encoder loaded from %s", cfg.ModelDir)
		return d, d.Close, nil
	}
	return encoder.NewGrid(), func() {}, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
