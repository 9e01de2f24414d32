package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/powerdown/cmd/powerdown/commands"
	"github.com/openfroyo/powerdown/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Exit statuses.
const (
	exitOK        = 0
	exitFailure   = 1
	exitEscalated = 2
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received signal, cancelling run")
		cancel()
	}()

	code := exitCode(commands.Execute(ctx, Version, Commit, BuildDate))
	cancel()
	os.Exit(code)
}

// exitCode is the only place errors become exit statuses.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, engine.ErrEscalated):
		log.Warn().Err(err).Msg("Shutdown budget exhausted")
		return exitEscalated
	default:
		event := log.Error().Err(err)
		if class := engine.ClassOf(err); class != "" {
			event = event.Str("class", string(class))
		}
		event.Msg("Command execution failed")
		return exitFailure
	}
}

// setupLogging configures the global logger used by the CLI itself. Run
// components log through the telemetry logger built from configuration.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
}
