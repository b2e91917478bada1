package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/burnet/burnet/cmd/burnet/commands"
	"github.com/burnet/burnet/pkg/errdefs"
	"github.com/burnet/burnet/pkg/telemetry"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, ok := os.LookupEnv("BURNET_LOG_LEVEL"); ok {
		zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	log.Error().Err(err).Str("kind", string(errdefs.KindOf(err))).Msg("burnet failed")
	stop()
	if errdefs.IsInvalid(err) || errdefs.IsNotFound(err) {
		os.Exit(2)
	}
	os.Exit(1)
}
