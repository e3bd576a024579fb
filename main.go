package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/BatmanBruc/bat-bot-video/internal/config"
	"github.com/BatmanBruc/bat-bot-video/internal/converter"
	"github.com/BatmanBruc/bat-bot-video/internal/extractor"
	"github.com/BatmanBruc/bat-bot-video/internal/handlers"
	"github.com/BatmanBruc/bat-bot-video/internal/health"
	"github.com/BatmanBruc/bat-bot-video/internal/logx"
	"github.com/BatmanBruc/bat-bot-video/internal/middleware"
	"github.com/BatmanBruc/bat-bot-video/internal/orchestrator"
	"github.com/BatmanBruc/bat-bot-video/internal/scheduler"
	"github.com/BatmanBruc/bat-bot-video/internal/telegram"
	"github.com/BatmanBruc/bat-bot-video/internal/utils"
	"github.com/BatmanBruc/bat-bot-video/store"
	"github.com/BatmanBruc/bat-bot-video/types"
)

func main() {
	_ = config.LoadEnvFile("config.env")
	logx.Setup(logx.FromEnv("bat-bot-video"))

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var states types.StateStore
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		states = store.NewRedisStateStore(rdb, cfg.StateTTLHours)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, conversation state is kept in memory")
		states = store.NewMemoryStateStore()
	}

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer pgStore.Close()

	if cfg.AllowedUserID != 0 {
		if err := pgStore.AddUser(cfg.AllowedUserID, true); err != nil {
			log.Fatal().Err(err).Int64("user_id", cfg.AllowedUserID).Msg("failed to whitelist user")
		}
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DownloadDir).Msg("cannot create download dir")
	}

	httpClient := &http.Client{
		Timeout: cfg.UploadTimeout + time.Minute,
	}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		cfg.BotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	runner := utils.ExecRunner{}
	transport := telegram.NewTransport(b)
	ytdlp := extractor.New(cfg.YtdlpBin, runner)
	handbrake := converter.NewHandBrake(cfg.HandbrakeBin, cfg.FfprobeBin, runner)
	if err := handbrake.Available(); err != nil {
		log.Warn().Err(err).Msg("HandBrakeCLI not found, compression will fail")
	}
	if !utils.HasCommand(cfg.YtdlpBin) {
		log.Warn().Str("bin", cfg.YtdlpBin).Msg("yt-dlp not found, downloads will fail")
	}

	// The janitor needs the registry and the orchestrator needs the janitor.
	var reg *orchestrator.Registry
	janitor := scheduler.NewJanitor(pgStore, func(dir string) bool {
		return reg != nil && reg.InUse(dir)
	}, scheduler.Config{
		Workers:      cfg.JanitorWorkers,
		Root:         cfg.DownloadDir,
		Prefix:       orchestrator.WorkDirPrefix,
		MaxAge:       cfg.WorkDirMaxAge,
		LogRetention: store.LogRetention,
	})

	orch := orchestrator.New(orchestrator.Config{
		DownloadDir:     cfg.DownloadDir,
		MaxFileSize:     cfg.MaxFileSizeBytes(),
		WarnFactor:      cfg.SizeWarnFactor,
		DefaultPreset:   cfg.DefaultPreset,
		QualityRF:       cfg.QualityRF,
		ProbeTimeout:    cfg.ProbeTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		EncodeTimeout:   cfg.EncodeTimeout,
		UploadTimeout:   cfg.UploadTimeout,
		UploadAttempts:  cfg.UploadAttempts,
	}, states, pgStore, transport, ytdlp, handbrake, janitor)
	reg = orch.Registry()

	h := handlers.NewHandlers(ctx, transport, pgStore, orch, handlers.Config{
		MaxFileSizeMB: cfg.MaxFileSizeMB,
		DefaultPreset: cfg.DefaultPreset,
	})
	mw := middleware.New(pgStore, transport)

	handlerChain := mw.AuthMiddleware(
		mw.AnalyzeMessageMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)

	hs := health.NewServer(cfg.HealthAddr, map[string]health.Pinger{
		"postgres": pgStore,
		"state":    states,
	})

	janitor.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int64("allowed_user", cfg.AllowedUserID).Msg("bot started, press Ctrl+C to stop")
		b.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return hs.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
	}

	log.Info().Msg("waiting for running sessions")
	orch.Wait()
	janitor.Stop()
	log.Info().Msg("bye")
}
