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
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watchroom/watchroom/gateway"
	"github.com/watchroom/watchroom/room"
)

type config struct {
	Addr        string `env:"WATCHROOM_ADDR" envDefault:":8080"`
	RedisURL    string `env:"WATCHROOM_REDIS_URL"`
	DefaultRoom string `env:"WATCHROOM_DEFAULT_ROOM"`
}

var cfg config

var rootCmd = &cobra.Command{
	Use:   "watchroom-backend",
	Short: "watchroom sync backend (WebSocket + REST)",
	RunE:  runBackend,
}

func init() {
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse env")
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP/WebSocket bind address")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the persistence gateway (empty: in-memory)")
	flags.StringVar(&cfg.DefaultRoom, "default-room", cfg.DefaultRoom, "optional room to open at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute backend command")
	}
}

func runBackend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gw gateway.Gateway
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
		gw = gateway.NewRedis(client)
		log.Info().Str("redis", opts.Addr).Msg("using redis persistence gateway")
	} else {
		gw = gateway.NewMemory()
		log.Info().Msg("using in-memory persistence gateway")
	}

	srv := room.NewServer(gw, log.Logger)
	defer srv.Close()

	if cfg.DefaultRoom != "" {
		rm, err := srv.OpenRoom(ctx, cfg.DefaultRoom)
		if err != nil {
			return err
		}
		log.Info().Str("room", rm.ID).Str("name", rm.Name).Msg("default room opened")
	}

	restMux := room.NewRestMux(srv)
	restMux.HandleFunc("/ws", room.GetWSHandleFunc(srv))
	handler := cors.Default().Handler(restMux)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("backend listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	log.Info().Msg("backend shutdown complete")
	return nil
}
