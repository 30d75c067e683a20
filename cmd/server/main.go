// Command server starts the MediaDrop mobile upload API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mediadrop/internal/admission"
	"mediadrop/internal/api"
	"mediadrop/internal/auth"
	"mediadrop/internal/entitlement"
	"mediadrop/internal/library"
	"mediadrop/internal/observability/logging"
	"mediadrop/internal/observability/metrics"
	"mediadrop/internal/policy"
	"mediadrop/internal/quota"
	"mediadrop/internal/server"
	"mediadrop/internal/uploader"
)

func main() {
	envFile := flag.String("env-file", "", "path to a dotenv file loaded before flags are resolved")
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")

	catalogDriver := flag.String("catalog-driver", "", "library catalog driver (json or postgres)")
	catalogPath := flag.String("catalog-path", "", "path to the JSON library catalog")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the library catalog")

	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory, postgres, or redis)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionRedisAddr := flag.String("session-redis-addr", "", "Redis address for the session store")
	sessionRedisPassword := flag.String("session-redis-password", "", "Redis password for the session store")
	sessionRedisDB := flag.Int("session-redis-db", 0, "Redis database index for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "lifetime of host sessions registered with the service")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired session sweeps")

	apiKey := flag.String("api-key", "", "API key the mobile app must present")
	securityToken := flag.String("security-token", "", "security token the mobile app must present")
	appPackage := flag.String("app-package", "", "package name the mobile app must present")
	userAgentMarker := flag.String("user-agent-marker", "", "substring required in the mobile app User-Agent")

	enableUploads := flag.Bool("enable-uploads", false, "accept uploads from the mobile app")
	allowFolderCreation := flag.Bool("allow-folder-creation", false, "create missing target folders during upload")
	maxFolderDepth := flag.Int("max-folder-depth", 0, "maximum folder nesting depth below a library root")
	maxFileSizeMB := flag.Int("max-file-size-mb", 0, "premium per-file size cap in MB (0 disables)")
	freeMaxFileSizeMB := flag.Int("free-max-file-size-mb", 0, "free tier per-file size cap in MB (0 disables)")
	freeDailyUploadLimit := flag.Int("free-daily-upload-limit", 0, "free tier daily file count cap (0 disables)")
	freeDailySizeLimitMB := flag.Int("free-daily-size-limit-mb", 0, "free tier daily size cap in MB (0 disables)")
	premiumDailyUploadLimit := flag.Int("premium-daily-upload-limit", 0, "premium daily file count cap (0 disables)")
	premiumDailySizeLimitMB := flag.Int("premium-daily-size-limit-mb", 0, "premium daily size cap in MB (0 disables)")
	ledgerRetentionDays := flag.Int("ledger-retention-days", 0, "days of finished usage records to keep")
	ledgerEvictInterval := flag.Duration("ledger-evict-interval", 0, "interval between usage ledger eviction sweeps")

	premiumBypass := flag.Bool("premium-bypass", false, "treat every request as premium")
	premiumAPIKey := flag.String("premium-api-key", "", "static premium token")
	premiumVerifyEndpoint := flag.String("premium-verify-endpoint", "", "external premium verification endpoint")

	photoExtensions := flag.String("photo-extensions", "", "comma separated extensions admitted into photo libraries")
	videoExtensions := flag.String("video-extensions", "", "comma separated extensions admitted into generic video libraries")
	movieExtensions := flag.String("movie-extensions", "", "comma separated extensions admitted into movie libraries")
	tvshowExtensions := flag.String("tvshow-extensions", "", "comma separated extensions admitted into TV show libraries")
	animeExtensions := flag.String("anime-extensions", "", "comma separated extensions admitted into anime libraries")
	musicExtensions := flag.String("music-extensions", "", "comma separated extensions admitted into music libraries")
	bookExtensions := flag.String("book-extensions", "", "comma separated extensions admitted into book libraries")

	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum upload requests per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting upload requests")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	flag.Parse()

	if path := strings.TrimSpace(firstNonEmpty(*envFile, os.Getenv("MEDIADROP_ENV_FILE"))); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file %s: %v\n", path, err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIADROP_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIADROP_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("MEDIADROP_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MEDIADROP_ADDR"))

	appCfg := admission.Config{
		APIKey:                  firstNonEmpty(*apiKey, os.Getenv("MEDIADROP_API_KEY")),
		SecurityToken:           firstNonEmpty(*securityToken, os.Getenv("MEDIADROP_SECURITY_TOKEN")),
		AppPackage:              firstNonEmpty(*appPackage, os.Getenv("MEDIADROP_APP_PACKAGE")),
		UserAgentMarker:         firstNonEmpty(*userAgentMarker, os.Getenv("MEDIADROP_USER_AGENT_MARKER")),
		EnableUploads:           resolveBool(*enableUploads, "MEDIADROP_ENABLE_UPLOADS"),
		AllowFolderCreation:     resolveBool(*allowFolderCreation, "MEDIADROP_ALLOW_FOLDER_CREATION"),
		MaxFileSizeMB:           resolveInt(*maxFileSizeMB, "MEDIADROP_MAX_FILE_SIZE_MB"),
		FreeMaxFileSizeMB:       resolveInt(*freeMaxFileSizeMB, "MEDIADROP_FREE_MAX_FILE_SIZE_MB"),
		FreeDailyUploadLimit:    resolveInt(*freeDailyUploadLimit, "MEDIADROP_FREE_DAILY_UPLOAD_LIMIT"),
		FreeDailySizeLimitMB:    resolveInt(*freeDailySizeLimitMB, "MEDIADROP_FREE_DAILY_SIZE_LIMIT_MB"),
		PremiumDailyUploadLimit: resolveInt(*premiumDailyUploadLimit, "MEDIADROP_PREMIUM_DAILY_UPLOAD_LIMIT"),
		PremiumDailySizeLimitMB: resolveInt(*premiumDailySizeLimitMB, "MEDIADROP_PREMIUM_DAILY_SIZE_LIMIT_MB"),
	}
	if err := validateAppCredentials(appCfg); err != nil {
		logger.Error("invalid app credential configuration", "error", err)
		os.Exit(1)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	catalogDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveCatalogDriver(*catalogDriver, os.Getenv("MEDIADROP_CATALOG_DRIVER"), catalogDSN)
	if err != nil {
		logger.Error("failed to resolve catalog driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres catalog driver", "driver", driver)
		os.Exit(1)
	}

	var (
		catalog       library.Catalog
		catalogCloser func()
	)
	switch driver {
	case "json":
		path := resolveCatalogPath(*catalogPath, os.Getenv("MEDIADROP_CATALOG_PATH"))
		jsonCatalog, err := library.NewJSONCatalog(path, logging.WithComponent(logger, "catalog"))
		if err != nil {
			logger.Error("failed to open library catalog", "path", path, "error", err)
			os.Exit(1)
		}
		catalog = jsonCatalog
	case "postgres":
		pgCatalog, err := library.NewPostgresCatalog(bootCtx, catalogDSN)
		if err != nil {
			logger.Error("failed to open library catalog", "error", err)
			os.Exit(1)
		}
		if err := pgCatalog.EnsureSchema(bootCtx); err != nil {
			logger.Error("failed to ensure catalog schema", "error", err)
			os.Exit(1)
		}
		catalog = pgCatalog
		catalogCloser = pgCatalog.Close
	default:
		logger.Error("unsupported catalog driver", "driver", driver)
		os.Exit(1)
	}

	sessionCfg, err := resolveSessionStoreConfig(sessionStoreInputs{
		FlagDriver:    *sessionStoreDriver,
		EnvDriver:     os.Getenv("MEDIADROP_SESSION_STORE"),
		CatalogDriver: driver,
		CatalogDSN:    catalogDSN,
		FlagDSN:       *sessionPostgresDSN,
		EnvDSN:        os.Getenv("MEDIADROP_SESSION_POSTGRES_DSN"),
		FlagRedisAddr: *sessionRedisAddr,
		EnvRedisAddr:  os.Getenv("MEDIADROP_SESSION_REDIS_ADDR"),
	})
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionCfg.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(sessionCfg.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		if err := pgStore.EnsureSchema(bootCtx); err != nil {
			logger.Error("failed to ensure session schema", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = pgStore.Close
	case "redis":
		redisStore, err := auth.NewRedisSessionStore(
			sessionCfg.RedisAddr,
			firstNonEmpty(*sessionRedisPassword, os.Getenv("MEDIADROP_SESSION_REDIS_PASSWORD")),
			resolveInt(*sessionRedisDB, "MEDIADROP_SESSION_REDIS_DB"),
		)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
		sessionCloser = func(context.Context) error { return redisStore.Close() }
	default:
		logger.Error("unsupported session store driver", "driver", sessionCfg.Driver)
		os.Exit(1)
	}

	ttl := resolveDuration(*sessionTTL, "MEDIADROP_SESSION_TTL", 0)
	sessionOpts := []auth.Option{auth.WithStore(sessionStore)}
	sessions := auth.NewManager(ttl, sessionOpts...)

	entitlementCfg := entitlement.Config{
		Bypass:         resolveBool(*premiumBypass, "MEDIADROP_PREMIUM_BYPASS"),
		APIKey:         firstNonEmpty(*premiumAPIKey, os.Getenv("MEDIADROP_PREMIUM_API_KEY")),
		VerifyEndpoint: firstNonEmpty(*premiumVerifyEndpoint, os.Getenv("MEDIADROP_PREMIUM_VERIFY_ENDPOINT")),
	}
	var verifier entitlement.Verifier
	if entitlementCfg.VerifyEndpoint != "" {
		httpVerifier, err := entitlement.NewHTTPVerifier(entitlementCfg.VerifyEndpoint, nil)
		if err != nil {
			logger.Error("invalid premium verify endpoint", "error", err)
			os.Exit(1)
		}
		verifier = httpVerifier
	}

	rules := resolveRules(policy.DefaultRules(), ruleOverrides{
		Photos:  firstNonEmpty(*photoExtensions, os.Getenv("MEDIADROP_PHOTO_EXTENSIONS")),
		Videos:  firstNonEmpty(*videoExtensions, os.Getenv("MEDIADROP_VIDEO_EXTENSIONS")),
		Movies:  firstNonEmpty(*movieExtensions, os.Getenv("MEDIADROP_MOVIE_EXTENSIONS")),
		TVShows: firstNonEmpty(*tvshowExtensions, os.Getenv("MEDIADROP_TVSHOW_EXTENSIONS")),
		Anime:   firstNonEmpty(*animeExtensions, os.Getenv("MEDIADROP_ANIME_EXTENSIONS")),
		Music:   firstNonEmpty(*musicExtensions, os.Getenv("MEDIADROP_MUSIC_EXTENSIONS")),
		Books:   firstNonEmpty(*bookExtensions, os.Getenv("MEDIADROP_BOOK_EXTENSIONS")),
	})

	var ledgerOpts []quota.Option
	if days := resolveInt(*ledgerRetentionDays, "MEDIADROP_LEDGER_RETENTION_DAYS"); days > 0 {
		ledgerOpts = append(ledgerOpts, quota.WithRetentionDays(days))
	}
	ledger := quota.NewLedger(ledgerOpts...)

	gate, err := admission.NewGate(appCfg, admission.Deps{
		Rules:        rules,
		Ledger:       ledger,
		Entitlements: entitlement.NewResolver(entitlementCfg, verifier, logging.WithComponent(logger, "entitlement")),
		Catalog:      catalog,
		Browser:      library.NewBrowser(resolveInt(*maxFolderDepth, "MEDIADROP_MAX_FOLDER_DEPTH"), logging.WithComponent(logger, "library")),
		Executor:     uploader.NewExecutor(logging.WithComponent(logger, "uploader")),
		Sessions:     sessions,
		Logger:       logging.WithComponent(logger, "admission"),
		Metrics:      recorder,
	})
	if err != nil {
		logger.Error("failed to initialise admission gate", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(gate, catalog, sessions, logging.WithComponent(logger, "api"))

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIADROP_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIADROP_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "MEDIADROP_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "MEDIADROP_RATE_GLOBAL_BURST"),
			UploadLimit:   resolveInt(*uploadLimit, "MEDIADROP_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "MEDIADROP_RATE_UPLOAD_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("MEDIADROP_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("MEDIADROP_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "MEDIADROP_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	ready := make(chan struct{})
	group.Go(func() error {
		return srv.Run(groupCtx, ready)
	})
	group.Go(func() error {
		return runSessionPurger(groupCtx, logging.WithComponent(logger, "session-purger"), sessions,
			resolveDuration(*sessionPurgeInterval, "MEDIADROP_SESSION_PURGE_INTERVAL", 15*time.Minute))
	})
	group.Go(func() error {
		return runLedgerEvictor(groupCtx, logging.WithComponent(logger, "ledger"), ledger,
			resolveDuration(*ledgerEvictInterval, "MEDIADROP_LEDGER_EVICT_INTERVAL", time.Hour))
	})

	go func() {
		<-ready
		logger.Info("MediaDrop API listening", "addr", listenAddr, "mode", serverMode)
		logger.Info("metrics endpoint available", "path", "/metrics")
	}()

	runErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sessionCloser != nil {
		if err := sessionCloser(shutdownCtx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}
	if catalogCloser != nil {
		catalogCloser()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func validateAppCredentials(cfg admission.Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if cfg.SecurityToken == "" {
		return fmt.Errorf("security token is required")
	}
	if cfg.AppPackage == "" {
		return fmt.Errorf("app package is required")
	}
	return nil
}

func resolveCatalogDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveCatalogPath(flagValue, envValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(envValue); path != "" {
		return path
	}
	return "data/libraries.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MEDIADROP_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

type sessionStoreInputs struct {
	FlagDriver    string
	EnvDriver     string
	CatalogDriver string
	CatalogDSN    string
	FlagDSN       string
	EnvDSN        string
	FlagRedisAddr string
	EnvRedisAddr  string
}

type sessionStoreConfig struct {
	Driver    string
	DSN       string
	RedisAddr string
}

func resolveSessionStoreConfig(in sessionStoreInputs) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(in.FlagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(in.EnvDriver))
	}

	sessionDSN := strings.TrimSpace(firstNonEmpty(in.FlagDSN, in.EnvDSN))
	redisAddr := strings.TrimSpace(firstNonEmpty(in.FlagRedisAddr, in.EnvRedisAddr))

	if driver == "" {
		switch {
		case redisAddr != "":
			driver = "redis"
		case sessionDSN != "":
			driver = "postgres"
		case in.CatalogDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(in.CatalogDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	case "redis":
		if redisAddr == "" {
			return sessionStoreConfig{}, fmt.Errorf("redis session store selected without address")
		}
		return sessionStoreConfig{Driver: "redis", RedisAddr: redisAddr}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

type ruleOverrides struct {
	Photos  string
	Videos  string
	Movies  string
	TVShows string
	Anime   string
	Music   string
	Books   string
}

func resolveRules(defaults policy.Rules, overrides ruleOverrides) policy.Rules {
	if overrides.Photos != "" {
		defaults.Photos = overrides.Photos
	}
	if overrides.Videos != "" {
		defaults.Videos = overrides.Videos
	}
	if overrides.Movies != "" {
		defaults.Movies = overrides.Movies
	}
	if overrides.TVShows != "" {
		defaults.TVShows = overrides.TVShows
	}
	if overrides.Anime != "" {
		defaults.Anime = overrides.Anime
	}
	if overrides.Music != "" {
		defaults.Music = overrides.Music
	}
	if overrides.Books != "" {
		defaults.Books = overrides.Books
	}
	return defaults
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
