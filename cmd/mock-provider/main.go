package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
)

func main() {
	_ = godotenv.Load()
	logging.Init("mock-provider", os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	caps := provider.DefaultCapabilities()
	if path := os.Getenv("PROVIDER_CAPABILITIES_FILE"); path != "" {
		loaded, err := provider.LoadCapabilities(path)
		if err != nil {
			slog.Error("failed to load capabilities", "path", path, "error", err)
			os.Exit(1)
		}
		caps = loaded
	}

	addr := ":8081"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	slog.Info("mock provider started", "addr", addr, "currencies", caps.Currencies)
	if err := http.ListenAndServe(addr, provider.NewHandler(provider.NewMock(caps))); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
