package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watchroom/watchroom/schedule"
)

type config struct {
	Addr     string   `env:"WATCHROOM_SCHEDULER_ADDR" envDefault:":8081"`
	RedisURL string   `env:"WATCHROOM_REDIS_URL"`
	Backends []string `env:"WATCHROOM_BACKENDS" envSeparator:","`
}

var cfg config

var rootCmd = &cobra.Command{
	Use:   "watchroom-scheduler",
	Short: "watchroom room placement scheduler (REST entry point)",
	RunE:  runScheduler,
}

func init() {
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse env")
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "RESTful service bind address")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the shared room registry (empty: in-memory)")
	flags.StringSliceVar(&cfg.Backends, "backends", cfg.Backends, "backend host:port list")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute scheduler command")
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg schedule.Registry
	var rclient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rclient = redis.NewClient(opts)
		if err := rclient.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rclient.Close()
		reg = schedule.NewRedisRegistry(rclient)
	} else {
		reg = schedule.NewMemRegistry()
	}

	if len(cfg.Backends) == 0 {
		log.Warn().Msg("no backends configured, room creation will return 503 until a schedule update arrives")
	}
	sch := schedule.NewScheduler(cfg.Backends, reg, rclient, log.Logger)
	go sch.Run(ctx)

	r := mux.NewRouter()
	r.Handle("/rooms", sch.GetProxy()).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}).Methods("GET")
	handler := cors.Default().Handler(r)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Strs("backends", cfg.Backends).Msg("scheduler listening")
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
