package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"backend-ridecal/internal/activity"
	"backend-ridecal/internal/auth"
	"backend-ridecal/internal/calendar"
	"backend-ridecal/internal/config"
	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/db"
	"backend-ridecal/internal/ftp"
	"backend-ridecal/internal/kvstore"
	"backend-ridecal/internal/oauth"
	"backend-ridecal/internal/plan"
	"backend-ridecal/internal/provider"
	"backend-ridecal/internal/stream"
	"backend-ridecal/internal/timeline"
	"backend-ridecal/internal/workout"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const providerTimeout = 30 * time.Second

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Plans    *plan.Service
	Timeline *timeline.Service
	Logger   *slog.Logger
}

func NewServer(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     pool,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log),
		Logger: log,
	}

	registerRoutes(s)
	return s
}

// newKVStore picks the configured backend, falling back to memory when its connection is
// missing.
func newKVStore(cfg config.Config, q db.Querier, redisClient *redis.Client, log *slog.Logger) kvstore.Store {
	switch strings.ToLower(cfg.CredentialBackend) {
	case "postgres":
		if q != nil {
			return kvstore.NewPostgres(q)
		}
	case "redis", "":
		if redisClient != nil {
			return kvstore.NewRedis(redisClient)
		}
	case "memory":
		return kvstore.NewMemory()
	}
	log.Warn("credential backend unavailable, using in-memory store", "backend", cfg.CredentialBackend)
	return kvstore.NewMemory()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var q db.Querier
	if s.DB != nil {
		q = s.DB
	}

	kv := newKVStore(s.Cfg, q, s.Redis, s.Logger)
	credentials := credential.NewStore(kv)
	states := oauth.NewStateSigner(s.Cfg.JWTSecret)
	httpClient := &http.Client{Timeout: providerTimeout}

	callback := func(p credential.Provider) string {
		return strings.TrimRight(s.Cfg.PublicBaseURL, "/") + "/connect/" + string(p) + "/callback"
	}
	managerOpts := []oauth.Option{oauth.WithHTTPClient(httpClient), oauth.WithLogger(s.Logger)}
	strava := oauth.NewManager(oauth.StravaConfig(s.Cfg.StravaClientID, s.Cfg.StravaClientSecret, s.Cfg.StravaOAuthURL, callback(credential.ProviderStrava)), credentials, states, managerOpts...)
	wahoo := oauth.NewManager(oauth.WahooConfig(s.Cfg.WahooClientID, s.Cfg.WahooClientSecret, s.Cfg.WahooAPIURL, callback(credential.ProviderWahoo)), credentials, states, managerOpts...)
	managers := map[credential.Provider]*oauth.Manager{
		credential.ProviderStrava: strava,
		credential.ProviderWahoo:  wahoo,
	}

	fetchOpts := provider.Options{HTTPClient: httpClient, RequestsPerSecond: s.Cfg.ProviderRequestsPerSecond, Logger: s.Logger}
	stravaFetcher := provider.NewStrava(s.Cfg.StravaAPIURL, strava, fetchOpts)
	wahooFetcher := provider.NewWahoo(s.Cfg.WahooAPIURL, wahoo, fetchOpts)

	workouts := workout.NewRepository(q)
	ftpRepo := ftp.NewRepository(kv)

	weekStart, err := calendar.ParseWeekStart(s.Cfg.WeekStart)
	if err != nil {
		s.Logger.Warn("invalid WEEK_START, using iso", "value", s.Cfg.WeekStart)
	}

	s.Plans = plan.NewService(plan.Deps{
		Generator:   plan.NewGenerator(s.Cfg.PlanGeneratorURL, &http.Client{}),
		KV:          kv,
		Planned:     workouts,
		Uploader:    wahooFetcher,
		Hub:         s.Stream,
		FTP:         ftpRepo,
		FallbackFTP: s.Cfg.DefaultFTP,
		Logger:      s.Logger,
	})
	s.Timeline = timeline.NewService(
		[]provider.Fetcher{stravaFetcher, wahooFetcher},
		workouts, ftpRepo, kv, s.Stream,
		timeline.Settings{
			Tolerance: activity.Tolerance{
				StartWithin:   s.Cfg.DedupeStartTolerance,
				DurationRatio: s.Cfg.DedupeDurationRatio,
				DistanceRatio: s.Cfg.DedupeDistanceRatio,
			},
			PlanHorizonDays:        s.Cfg.PlanHorizonDays,
			CompactPlanHorizonDays: s.Cfg.CompactPlanHorizonDays,
			WeekStart:              weekStart,
			FallbackFTP:            s.Cfg.DefaultFTP,
		},
		s.Logger,
	)

	authService := auth.NewService(s.Cfg.JWTSecret, q)
	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), authService)
	oauth.RegisterRoutes(s.App.Group("/connect"), managers, states, jwtMiddleware)
	ftp.RegisterRoutes(s.App.Group("/ftp"), ftpRepo, s.Cfg.DefaultFTP, jwtMiddleware)
	workout.RegisterRoutes(s.App.Group("/workouts"), workouts, jwtMiddleware)
	plan.RegisterRoutes(s.App.Group("/plans"), s.Plans, jwtMiddleware)
	timeline.RegisterRoutes(s.App, s.Timeline, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, authService)
}
