// Command seed loads a starter pharmacy catalog into a running service
// through its HTTP API. Products that already exist are left untouched.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Sumudu01/NayanaPharma/pkg/httpclient"
	"github.com/Sumudu01/NayanaPharma/pkg/logger"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := logger.New("nayana-pharma-seed", getEnv("LOG_LEVEL", "info"))
	baseURL := getEnv("PHARMACY_URL", "http://localhost:8080")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := httpclient.New(httpclient.DefaultConfig())
	created, skipped, err := seedCatalog(ctx, client, baseURL, starterCatalog, log)
	if err != nil {
		log.Error("seed failed",
			slog.Int("created", created),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	log.Info("seed complete",
		slog.String("url", baseURL),
		slog.Int("created", created),
		slog.Int("skipped", skipped),
	)
}
