package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/askgate/internal/answer"
	"github.com/nextlevelbuilder/askgate/internal/chat"
	"github.com/nextlevelbuilder/askgate/internal/queue"
	"github.com/nextlevelbuilder/askgate/internal/worker"
)

// drainCmd runs coordinator passes from the CLI until the queue is empty.
// Useful for working off a backlog without the HTTP surface.
func drainCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process queued jobs from the command line",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			cfg := loadConfig()
			// CLI drains locally; never fire HTTP follow-ups at a server.
			cfg.Worker.SelfURL = ""

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			jobs := queue.NewRedisQueue(rdb, cfg.Redis.QueueName, cfg.Visibility())

			chatOpts := []chat.Option{}
			if cfg.Slack.APIBase != "" {
				chatOpts = append(chatOpts, chat.WithBaseURL(cfg.Slack.APIBase))
			}
			chatClient := chat.NewClient(cfg.Slack.BotToken, chatOpts...)
			engine := answer.NewHTTPEngine(cfg.Answer.BaseURL, cfg.Answer.APIKey,
				time.Duration(cfg.Answer.TimeoutSec)*time.Second)

			proc := worker.NewProcessor(chatClient, engine, cfg)
			coord := worker.NewCoordinator(cfg, jobs, proc, redislock.New(rdb), nil)

			ctx := context.Background()
			for {
				res := coord.RunOnce(ctx)
				out, _ := json.Marshal(res)
				fmt.Println(string(out))
				if !all || res.Status == "no_jobs" || res.RemainingJobs == 0 {
					return
				}
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "keep draining until the queue is empty")
	return cmd
}
