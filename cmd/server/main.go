package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"revflow/internal/agent"
	"revflow/internal/api/handler"
	"revflow/internal/config"
	"revflow/internal/core/postgres/repository"
	"revflow/internal/domain"
	"revflow/internal/infrastructure/redis"
	"revflow/internal/invoker"
	"revflow/internal/log"
	"revflow/internal/service"
	"revflow/internal/watchdog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	logger := log.GetLogger()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Durable store
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := db.AutoMigrate(&domain.WorkflowRecord{}); err != nil {
		logger.WithError(err).Fatal("failed to migrate workflow table")
	}
	store := repository.NewWorkflowRepository(db)

	// 2. Queue and timer primitives
	redisClient := redis.NewRedisClient(cfg.RedisAddr)
	queue := redis.NewGroupQueue(redisClient, cfg.QueueDedupWindow, cfg.QueueMaxDeliveries)
	timers := redis.NewTimerService(redisClient, cfg.TimerPollInterval)

	// 3. Components
	agentClient := agent.NewClient(cfg.AgentURL, cfg.AgentCallTimeout)
	policy := domain.RetryPolicy{MaxRetries: cfg.MaxRetries}

	workflowSvc := service.NewWorkflowService(store, queue, timers, cfg.WatchdogDelay)
	inv := invoker.NewInvoker(store, agentClient)
	wd := watchdog.NewWatchdog(store, queue, timers, policy, cfg.WatchdogDelay)

	// 4. Background consumers
	for i := 0; i < cfg.InvokerConcurrency; i++ {
		go queue.Consume(ctx, inv.Handle)
	}
	go timers.Poll(ctx, wd.HandleTimer)

	// 5. HTTP surface
	workflowHandler := handler.NewWorkflowHandler(workflowSvc)

	router := gin.Default()
	router.POST("/ingest", workflowHandler.Ingest)
	router.GET("/workflows/:id", workflowHandler.GetWorkflow)
	router.POST("/workflows/:id/complete", workflowHandler.MarkCompleted)
	router.POST("/workflows/:id/fail", workflowHandler.MarkFailed)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown failed")
	}
}
