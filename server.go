package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/models"
	"github.com/T0MGL/0rdefy-sub003/workflow"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultCleanupInterval = time.Hour

func main() {
	godotenv.Load()
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), logger)
	if topic := os.Getenv("PUBSUB_AUDIT_TOPIC"); topic != "" && !dispatcher.DirectMode {
		client, err := config.GetClient(ctx)
		if err != nil {
			config.LogError(logger, "server.go", "main", "pubsub client init failed", topic, err)
		} else if _, err := config.CreateTopicIfNotExists(client, topic); err != nil {
			config.LogError(logger, "server.go", "main", "ensure audit topic failed", topic, err)
		}
	}
	go dispatcher.Run(ctx)
	logger.WithFields(logrus.Fields{
		"dispatcher_id": dispatcher.DispatcherID,
	}).Info("outbox dispatcher started")

	interval := defaultCleanupInterval
	if v := os.Getenv("SESSION_CLEANUP_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Minute
		}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				results, err := workflow.CleanupExpiredSessions(ctx)
				if err != nil {
					config.LogError(logger, "server.go", "main", "session cleanup run failed", nil, err)
					continue
				}
				if len(results) > 0 {
					logger.WithFields(logrus.Fields{
						"abandoned": len(results),
					}).Info("session cleanup run finished")
				}
			}
		}
	}()

	logger.Info("fulfillment worker running")
	<-ctx.Done()
	logger.Info("fulfillment worker shutting down")
}
