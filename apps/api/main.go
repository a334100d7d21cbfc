package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	courseshandler "github.com/brightdesk/campus-admin/domains/courses/be/handler"
	coursesrepo "github.com/brightdesk/campus-admin/domains/courses/be/repo"
	coursesservice "github.com/brightdesk/campus-admin/domains/courses/be/service"
	platformlogging "github.com/brightdesk/campus-admin/platform/go/logging"
	platformmiddleware "github.com/brightdesk/campus-admin/platform/go/middleware"
	"github.com/brightdesk/campus-admin/platform/go/persistence"
	"github.com/brightdesk/campus-admin/platform/go/sequence"
	tenantmiddleware "github.com/brightdesk/campus-admin/platform/go/tenant/middleware"
)

type config struct {
	Port             string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	TenantHeader     string        `env:"TENANT_HEADER" envDefault:"X-Tenant-ID"`
	CourseIDWidth    int           `env:"COURSE_ID_WIDTH" envDefault:"4"`
	AllowDegradedIDs bool          `env:"ALLOW_DEGRADED_IDS" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.Bootstrap(ctx, pool); err != nil {
		logger.Fatal("bootstrap admin schema", zap.Error(err))
	}

	courseStore, err := persistence.NewCourseStore(pool)
	if err != nil {
		logger.Fatal("init course store", zap.Error(err))
	}

	counterStore, err := persistence.NewCounterStore(pool, courseStore)
	if err != nil {
		logger.Fatal("init counter store", zap.Error(err))
	}

	allocator := sequence.NewAllocator(counterStore, courseStore, logger)
	courseNS := sequence.Namespace{Name: "courseid", Prefix: "COURSE", Width: cfg.CourseIDWidth}

	coursesRepo := coursesrepo.NewPostgresRepository(courseStore)
	coursesService := coursesservice.New(coursesRepo, allocator, logger, coursesservice.Config{
		Namespace:        courseNS,
		AllowDegradedIDs: cfg.AllowDegradedIDs,
	})
	coursesHandler := courseshandler.New(coursesService, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(platformlogging.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(platformmiddleware.DefaultCORS())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tenantmiddleware.Resolve(cfg.TenantHeader))
		r.Mount("/", coursesHandler.Routes())
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("api server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", zap.Error(err))
	}
	logger.Info("api server stopped")
}
