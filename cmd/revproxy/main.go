package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watchroom/watchroom/schedule"
)

type config struct {
	Addr     string `env:"WATCHROOM_PROXY_ADDR" envDefault:":8082"`
	RedisURL string `env:"WATCHROOM_REDIS_URL"`
}

var cfg config

var rootCmd = &cobra.Command{
	Use:   "watchroom-revproxy",
	Short: "watchroom websocket entry point, routes clients to the backend hosting their room",
	RunE:  runProxy,
}

func init() {
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse env")
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "WebSocket service bind address")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the shared room registry")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute revproxy command")
	}
}

func runProxy(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg schedule.Registry
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		defer client.Close()
		reg = schedule.NewRedisRegistry(client)
	} else {
		// a memory registry on a standalone proxy routes nothing; only
		// useful for smoke tests
		reg = schedule.NewMemRegistry()
	}

	rp := schedule.NewLoadBalancedReverseProxy(reg)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rp.GetProxy(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("revproxy listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}
