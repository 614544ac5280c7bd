package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/askgate/internal/answer"
	"github.com/nextlevelbuilder/askgate/internal/chat"
	"github.com/nextlevelbuilder/askgate/internal/config"
	"github.com/nextlevelbuilder/askgate/internal/dedupe"
	"github.com/nextlevelbuilder/askgate/internal/gateway"
	"github.com/nextlevelbuilder/askgate/internal/queue"
	"github.com/nextlevelbuilder/askgate/internal/store"
	"github.com/nextlevelbuilder/askgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/askgate/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway and worker",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

func runServe() {
	setupLogging()
	cfg := loadConfig()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis not reachable at startup, continuing", "addr", cfg.Redis.Addr, "error", err)
	}
	cancelPing()

	jobs := queue.NewRedisQueue(rdb, cfg.Redis.QueueName, cfg.Visibility())
	dedup := dedupe.NewTiered(
		dedupe.NewCache(cfg.DedupTTL(), 5000),
		dedupe.NewRedisStore(rdb, cfg.DedupTTL()),
	)

	chatOpts := []chat.Option{}
	if cfg.Slack.APIBase != "" {
		chatOpts = append(chatOpts, chat.WithBaseURL(cfg.Slack.APIBase))
	}
	chatClient := chat.NewClient(cfg.Slack.BotToken, chatOpts...)

	engine := answer.NewHTTPEngine(cfg.Answer.BaseURL, cfg.Answer.APIKey,
		time.Duration(cfg.Answer.TimeoutSec)*time.Second)

	var history store.JobHistory
	if cfg.History.Path != "" {
		h, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			slog.Warn("job history disabled", "error", err)
		} else {
			history = h
			defer h.Close()
		}
	}

	proc := worker.NewProcessor(chatClient, engine, cfg)
	coord := worker.NewCoordinator(cfg, jobs, proc, redislock.New(rdb), history)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A fresh enqueue kicks one detached pass immediately; chaining and the
	// scheduled tick take it from there.
	onEnqueue := func() {
		go coord.RunOnce(context.WithoutCancel(ctx))
	}

	srv := gateway.NewServer(cfg, dedup, jobs, onEnqueue)
	registrars := []gateway.RouteRegistrar{worker.NewHandler(coord, cfg.Worker.Token)}
	if history != nil {
		registrars = append(registrars, gateway.NewHistoryHandler(history, cfg.Worker.Token))
	}
	srv.BuildMux(registrars...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		tick, err := worker.NewTick(coord, jobs, cfg.Worker.Schedule)
		if err != nil {
			return err
		}
		return tick.Run(gctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("askgate stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("askgate stopped")
}
