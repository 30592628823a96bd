package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watchroom/watchroom/room"
)

type config struct {
	URL  string `env:"WATCHROOM_URL" envDefault:"ws://localhost:8080/ws"`
	Room string `env:"WATCHROOM_ROOM"`
	Name string `env:"WATCHROOM_NAME" envDefault:"headless"`
}

var cfg config

var rootCmd = &cobra.Command{
	Use:   "watchroom-follower",
	Short: "headless watchroom follower: joins a room and tracks the admin's playback",
	RunE:  runFollower,
}

func init() {
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse env")
	}
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.URL, "url", cfg.URL, "backend websocket URL")
	flags.StringVar(&cfg.Room, "room", cfg.Room, "room id to join")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "display name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute follower command")
	}
}

func runFollower(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := room.ConnectFollower(nil, cfg.URL, cfg.Room, cfg.Name, log.Logger)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		f.Close()
	}()
	log.Info().Str("room", cfg.Room).Str("name", cfg.Name).Msg("following")
	f.Run()
	return nil
}
