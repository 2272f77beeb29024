package main

import (
	"context"
	"fmt"
	"os"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/workflow"
	"github.com/joho/godotenv"
)

// One-shot variant of the worker's periodic cleanup, for cron or manual runs.
func main() {
	godotenv.Load()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	results, err := workflow.CleanupExpiredSessions(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "session %s (business %s): %v\n", r.Code, r.BusinessId, r.Err)
			continue
		}
		fmt.Printf("abandoned session %s (business %s)\n", r.Code, r.BusinessId)
	}
	fmt.Printf("done: %d abandoned, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
