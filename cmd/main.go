package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Load .env failed: %v", err)
	}

	cmd := &cli.Command{
		Name:  "livequiz",
		Usage: "real-time quiz session server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the config file, defaults and environment only when empty",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars("DEBUG"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("Run server failed: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	c, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	select {
	case <-ctx.Done():
	case err = <-errc:
		slog.ErrorContext(ctx, "server: stopped with error", "error", err)
	}

	s.Shutdown()
	return err
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
