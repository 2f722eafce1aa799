// Package bootstrap assembles the backends shared by the API and worker
// processes from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"brandgen/internal/artifacts"
	"brandgen/internal/audit"
	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/infra/credentials"
	"brandgen/internal/jobstore"
	"brandgen/internal/ledger"
	"brandgen/internal/providers"
	"brandgen/internal/router"
)

// Backends holds the stores selected by STORE_BACKEND.
type Backends struct {
	Ledger ledger.Ledger
	Jobs   domain.JobStore
	Usage  domain.UsageRecorder
	Audit  domain.AuditRecorder
	// Reports and SQL are nil on the memory backend.
	Reports     *audit.Postgres
	SQL         *infra.SQLRunner
	Credentials *credentials.Store

	close func()
}

// Open connects the configured store backend.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Backends, error) {
	switch cfg.StoreBackend {
	case infra.BackendMemory:
		log := audit.NewLog(logger)
		return &Backends{
			Ledger: ledger.NewMemory(nil),
			Jobs:   jobstore.NewMemory(nil),
			Usage:  log,
			Audit:  log,
			close:  func() {},
		}, nil
	case infra.BackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, *logger)
		reports := audit.NewPostgres(runner)
		return &Backends{
			Ledger:      ledger.NewPostgres(runner),
			Jobs:        jobstore.NewPostgres(runner),
			Usage:       reports,
			Audit:       reports,
			Reports:     reports,
			SQL:         runner,
			Credentials: credentials.NewStore(runner),
			close:       pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("store backend %q is not supported", cfg.StoreBackend)
}

// Ping checks the database connection. The memory backend is always up.
func (b *Backends) Ping(ctx context.Context) error {
	if b.SQL == nil {
		return nil
	}
	return b.SQL.Pool.Ping(ctx)
}

func (b *Backends) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenArtifacts returns the artifact store selected by ARTIFACT_BACKEND.
func OpenArtifacts(ctx context.Context, cfg *infra.Config) (artifacts.Store, error) {
	switch cfg.ArtifactBackend {
	case infra.BackendFile:
		base := cfg.StoragePath
		if !filepath.IsAbs(base) {
			if abs, err := filepath.Abs(base); err == nil {
				base = abs
			}
		}
		return artifacts.NewFileStore(base, cfg.StorageBaseURL)
	case infra.BackendMinio:
		return artifacts.NewMinioStore(ctx, artifacts.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return nil, fmt.Errorf("artifact backend %q is not supported", cfg.ArtifactBackend)
}

// Providers registers every provider with a usable key plus the synthetic
// provider. Keys come from the environment first and the credentials store
// second.
func Providers(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger *infra.Logger) []providers.Provider {
	client := &http.Client{Timeout: cfg.ProviderTimeout + 30*time.Second}
	resolve := func(provider, explicit string) string {
		key, err := creds.Resolve(ctx, provider, explicit)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: load provider key failed")
		}
		return key
	}

	registered := []providers.Provider{providers.NewSynthetic()}
	if key := resolve(credentials.ProviderGemini, cfg.GeminiAPIKey); key != "" {
		registered = append(registered, providers.NewGemini(providers.GeminiOptions{
			APIKey: key, BaseURL: cfg.GeminiBaseURL, HTTPClient: client, Logger: logger,
		}))
	}
	if key := resolve(credentials.ProviderOpenAI, cfg.OpenAIAPIKey); key != "" {
		registered = append(registered, providers.NewOpenAI(providers.OpenAIOptions{
			APIKey: key, BaseURL: cfg.OpenAIBaseURL, Organization: cfg.OpenAIOrg, HTTPClient: client,
		}))
	}
	if key := resolve(credentials.ProviderQwen, cfg.QwenAPIKey); key != "" {
		registered = append(registered, providers.NewQwen(providers.QwenOptions{
			APIKey: key, BaseURL: qwenBaseURL(cfg), HTTPClient: client, Logger: logger,
		}))
	}
	return registered
}

// qwenBaseURL picks the DashScope region endpoint unless QWEN_BASE_URL is set.
func qwenBaseURL(cfg *infra.Config) string {
	if cfg.QwenBaseURL != "" {
		return cfg.QwenBaseURL
	}
	if strings.EqualFold(cfg.QwenRegion, "cn") {
		return "https://dashscope.aliyuncs.com/api/v1"
	}
	return ""
}

// RouteTable loads ROUTES_FILE, or the embedded table. In development with
// only the synthetic provider registered every task routes to it.
func RouteTable(cfg *infra.Config, registered []providers.Provider) (*router.Table, error) {
	if cfg.RoutesFile == "" && cfg.IsDevelopment() && len(registered) == 1 {
		return router.DevelopmentTable(), nil
	}
	return router.LoadTable(cfg.RoutesFile)
}

// NewRouter builds the model router over the registered providers.
func NewRouter(ctx context.Context, cfg *infra.Config, b *Backends, logger *infra.Logger) (*router.Router, error) {
	registered := Providers(ctx, cfg, b.Credentials, logger)
	table, err := RouteTable(cfg, registered)
	if err != nil {
		return nil, err
	}
	return router.New(table, registered, router.Options{
		Usage:          b.Usage,
		Logger:         logger,
		AttemptTimeout: cfg.ProviderTimeout,
	})
}
