package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/models"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/joho/godotenv"
)

// Replays the inventory movement ledger for one business and reports products
// whose cached stock disagrees with it.
func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	godotenv.Load()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)
	drifts, err := models.ReplayMovements(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
	if len(drifts) == 0 {
		fmt.Println("ledger matches cached stock for every product")
		return
	}
	for _, d := range drifts {
		fmt.Printf("product %d (%s / %s): cached %d, ledger %d\n",
			d.ProductId, d.Name, d.Sku, d.CachedStock, d.LedgerStock)
	}
	os.Exit(1)
}
