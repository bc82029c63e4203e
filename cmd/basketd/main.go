package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basketd/config"
	"basketd/gateway/middleware"
	"basketd/gateway/routes"
	"basketd/native/cdp"
	nativecommon "basketd/native/common"
	"basketd/observability/logging"
	"basketd/services/oracle"
	"basketd/storage"
	"basketd/storage/pricedb"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "basketd.yaml", "path to basketd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BASKETD_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("basketd: load config: %v", err)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("basketd", env)

	engineCfg, err := config.LoadEngine(cfg.EngineConfig)
	if err != nil {
		log.Fatalf("basketd: load engine config: %v", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Fatalf("basketd: open state database: %v", err)
	}
	defer db.Close()

	engine := cdp.NewEngine(engineCfg)
	engine.SetState(cdp.NewStateStore(db))
	engine.SetTally(cdp.NewCounterTally())

	if cfg.OracleEndpoint != "" {
		client, err := oracle.NewClient(cfg.OracleEndpoint, cfg.OracleTimeout.Duration)
		if err != nil {
			log.Fatalf("basketd: oracle client: %v", err)
		}
		engine.SetOracle(client)
	} else {
		logger.Warn("no oracle endpoint configured, price-dependent operations will fail")
	}

	if cfg.PriceDBPath != "" {
		audit, err := pricedb.Open(cfg.PriceDBPath)
		if err != nil {
			log.Fatalf("basketd: open price audit store: %v", err)
		}
		defer audit.Close()
		engine.SetPriceAuditor(audit)
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[limit.Group] = middleware.RateLimit{
			RatePerSecond: limit.RatePerSecond,
			Burst:         limit.Burst,
			DefaultTokens: limit.DefaultTokens,
			Tokens:        limit.Tokens,
		}
	}
	quota := nativecommon.Quota{
		MaxRequestsPerMin: cfg.Quota.MaxRequestsPerMin,
		MaxCreditPerEpoch: cfg.Quota.MaxCreditPerEpoch,
		EpochSeconds:      cfg.Quota.EpochSeconds,
	}
	api := routes.NewServer(engine, logger, limits, quota)

	pauses := nativecommon.NewPauseStore(db)
	engine.SetPauses(pauses)
	api.SetPauses(pauses)

	if cfg.GovernanceAuth.Enabled {
		auth := middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.GovernanceAuth.HMACSecret,
			Issuer:     cfg.GovernanceAuth.Issuer,
			Audience:   cfg.GovernanceAuth.Audience,
			ClockSkew:  cfg.GovernanceAuth.ClockSkew.Duration,
		}, logger)
		api.SetGovernanceAuth(auth)
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		api.SetCORS(middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins})
	}

	root := chi.NewRouter()
	root.Mount("/", api.Router())
	root.Handle("/metrics", promhttp.Handler())
	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("basketd listening", "addr", cfg.ListenAddress, "env", env)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("basketd: serve: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Duration)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
