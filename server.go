package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/utils"
	"bitbucket.org/vaxsync/inventory_backend/workflow"
)

const defaultPort = "8080"

var tracer = otel.Tracer("vaxsync-inventory")

// correlationMiddleware tags every request with a correlation id (taken from
// X-Correlation-Id or generated) and the optional caller headers.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := strings.TrimSpace(c.GetHeader("X-Correlation-Id"))
		if correlationId == "" {
			correlationId = utils.NewCorrelationId()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		if v, err := strconv.Atoi(c.GetHeader("X-User-Id")); err == nil && v > 0 {
			ctx = utils.SetUserIdInContext(ctx, v)
		}
		if name := strings.TrimSpace(c.GetHeader("X-User-Name")); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		if v, err := strconv.Atoi(c.GetHeader("X-Barangay-Id")); err == nil && v > 0 {
			ctx = utils.SetBarangayIdInContext(ctx, v)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationId)
		c.Next()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": correlationId,
			}).Error(c.Errors.String())
		}
	}
}

func corsConfig() cors.Config {
	conf := cors.DefaultConfig()
	// production needs an explicit allowlist in CORS_ALLOWED_ORIGINS
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		conf.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(conf.AllowOrigins) == 0 {
			conf.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		conf.AllowAllOrigins = true
	}
	conf.AddAllowMethods("GET", "POST", "OPTIONS")
	conf.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Correlation-Id", "X-User-Id", "X-User-Name", "X-Barangay-Id")
	conf.AddExposeHeaders("Content-Length", "Content-Disposition", "X-Correlation-Id")
	if !conf.AllowAllOrigins {
		conf.AllowCredentials = true
	}
	return conf
}

func newRouter(h *ledgerHandler, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfig()))
	r.Use(correlationMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/v1", h.ready)
	{
		api.POST("/inventory/deduct", h.deduct)
		api.POST("/inventory/add-back", h.addBack)
		api.POST("/inventory/reserve", h.reserve)
		api.POST("/inventory/release", h.release)
		api.POST("/inventory/recalculate-reserved", h.recalculateReserved)
		api.POST("/inventory/receive", h.receive)

		api.POST("/aggregate/deduct", h.deductAggregate)
		api.POST("/aggregate/add-back", h.addBackAggregate)
		api.POST("/aggregate/:id/reconcile", h.reconcileAggregate)

		api.POST("/requests/:id/approve", h.approveRequest)
		api.POST("/sessions/:id/administer", h.administer)

		api.GET("/reports/monthly", h.monthlyReports)
		api.POST("/reports/monthly", h.computeMonthlyReport)
		api.GET("/reports/monthly/export", h.exportMonthlyReport)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func main() {
	logger := config.GetLogger()
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &ledgerHandler{logger: logger}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(h, logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	if config.RedisEnabled() {
		config.ConnectRedisWithRetry()
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; running without locks or shared report cache")
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	ledger, err := workflow.NewLedgerFromEnv(models.NewGormStore(db), logger)
	if err != nil {
		log.Fatal(err)
	}
	h.ledger.Store(ledger)
	log.Println("Server started successfully on port " + port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
