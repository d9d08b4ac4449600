package app

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"studyflow/internal/config"
	"studyflow/internal/janitor"
	"studyflow/internal/jobs"
	"studyflow/internal/platform/httpclient"
	"studyflow/internal/platform/logger"
	"studyflow/internal/push"
	"studyflow/internal/registry"
	"studyflow/internal/watch"
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "studyflow",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.log.Info("starting")
	defer logger.Close(a.log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(a.cfg.Backend.Timeout),
		httpclient.WithBearer(a.cfg.Backend.Token),
	)
	jc := jobs.NewClient(client, a.cfg.Backend.BaseURL, jobs.WithLogger(a.log))

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	reg := registry.New(store, a.log)

	wopts := []watch.WatcherOption{watch.WithLogger(a.log)}
	switch a.cfg.Push.Driver {
	case "nats":
		wopts = append(wopts, watch.WithTransport(push.NewNATS(a.cfg.Push.URL)))
	case "redis":
		ropts, err := redis.ParseURL(a.cfg.Push.URL)
		if err != nil {
			return err
		}
		wopts = append(wopts, watch.WithTransport(push.NewRedis(ropts)))
	}
	watcher := watch.New(jc, reg, wopts...)

	jan, err := janitor.New(reg, a.cfg.Janitor.Schedule, a.cfg.Janitor.Retention, a.log)
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Stop()

	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/jobs/:user", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.List(c.Request.Context(), c.Param("user")))
	})
	r.POST("/jobs/:user/resume", func(c *gin.Context) {
		n := watcher.ResumeUser(ctx, c.Param("user"), watch.ResumeOptions{})
		c.JSON(http.StatusAccepted, gin.H{"resumed": n})
	})

	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("server", slog.Any("err", err))
		}
	}()
	a.log.Info("listening", slog.String("addr", a.cfg.HTTP.Addr))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *App) openStore(ctx context.Context) (registry.Store, error) {
	if a.cfg.Registry.Driver == "postgres" {
		return registry.NewPGStore(ctx, a.cfg.Registry.DSN)
	}
	return registry.NewSQLiteStore(ctx, a.cfg.Registry.Path)
}
