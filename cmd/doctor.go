package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/askgate/internal/config"
)

// doctorCmd checks the deployment prerequisites and reports what's missing.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Printf("✗ config: %v\n", err)
				return
			}
			fmt.Println("✓ config loaded")

			check("slack signing secret (ASKGATE_SLACK_SIGNING_SECRET)", cfg.Slack.SigningSecret != "")
			check("slack bot token (ASKGATE_SLACK_BOT_TOKEN)", cfg.Slack.BotToken != "")
			check("slack bot user id", cfg.Slack.BotUserID != "")
			check("worker token (ASKGATE_WORKER_TOKEN)", cfg.Worker.Token != "")
			check("answer service base url", cfg.Answer.BaseURL != "")
			if cfg.Worker.SelfURL == "" {
				fmt.Println("· worker self_url unset — chaining disabled, scheduled tick drains alone")
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				fmt.Printf("✗ redis at %s: %v\n", cfg.Redis.Addr, err)
			} else {
				fmt.Printf("✓ redis at %s\n", cfg.Redis.Addr)
			}
		},
	}
}

func check(name string, ok bool) {
	if ok {
		fmt.Printf("✓ %s\n", name)
	} else {
		fmt.Printf("✗ %s missing\n", name)
	}
}
