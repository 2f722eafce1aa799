package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"brandgen/internal/infra"
	"brandgen/internal/infra/credentials"
)

// envKeys names the environment variable each provider's key falls back to.
var envKeys = map[string]string{
	credentials.ProviderGemini: "GEMINI_API_KEY",
	credentials.ProviderOpenAI: "OPENAI_API_KEY",
	credentials.ProviderQwen:   "QWEN_API_KEY",
}

func main() {
	_ = godotenv.Load()

	var keyFlag, providerFlag string
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to the environment)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderGemini, "provider to configure (gemini, openai or qwen)")
	flag.Parse()

	provider, key, err := resolveKey(providerFlag, keyFlag, os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: dbURL, DBMaxConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "providerkey").With().Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.SetToken(ctx, provider, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s api key: %v\n", provider, err)
		os.Exit(1)
	}
	fmt.Printf("%s API key stored successfully\n", strings.ToUpper(provider))
}

func resolveKey(providerFlag, keyFlag string, getenv func(string) string) (string, string, error) {
	provider := strings.ToLower(strings.TrimSpace(providerFlag))
	if provider == "" {
		provider = credentials.ProviderGemini
	}
	if !credentials.Known(provider) {
		return "", "", fmt.Errorf("unsupported provider %q", providerFlag)
	}
	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(getenv(envKeys[provider]))
	}
	if key == "" {
		return "", "", fmt.Errorf("%s API key is required via -key or %s", strings.ToUpper(provider), envKeys[provider])
	}
	return provider, key, nil
}
