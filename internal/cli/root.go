package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/payments-gateway/internal/config"
	"github.com/example/payments-gateway/internal/logger"
)

const serviceName = "payments-gateway"

var (
	rootCmd *cobra.Command

	// serviceLogger is set once configuration loaded; failures are reported
	// through it so they share the format of the rest of the run.
	serviceLogger zerolog.Logger
	// fallbackOutput receives failures that happen before the logger exists.
	fallbackOutput io.Writer = os.Stderr
)

func init() {
	rootCmd = &cobra.Command{
		Use:   serviceName,
		Short: "Payments ingestion gateway",
		Long: `payments-gateway consumes payment creation requests from RabbitMQ and
creates them in PostgreSQL.

Messages that cannot be decoded or are rejected are dead-lettered to
payments-dead-letter.queue. Without a subcommand the gateway consumes.`,
		RunE:          runConsume, // Default action is consume
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// Execute runs the root command. A failure is logged once and returned; the
// caller decides the exit status.
func Execute(version string) error {
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(declareCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(routesCmd)

	rootCmd.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportFailure(err)
		return err
	}
	return nil
}

// stageError tags an error with the step of the run that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

func reportFailure(err error) {
	stage := "command"
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	log := serviceLogger
	if reflect.ValueOf(log).IsZero() {
		log = zerolog.New(fallbackOutput).With().Timestamp().Str("service", serviceName).Logger()
	}
	log.Error().Err(err).Str("stage", stage).Msg("payments gateway failed")
}

type loadFunc func() (*config.Config, error)

// setup loads configuration and builds the service logger.
func setup(load loadFunc) (*config.Config, zerolog.Logger, error) {
	cfg, err := load()
	if err != nil {
		return nil, zerolog.Logger{}, atStage("config load", err)
	}

	base, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, atStage("logger init", fmt.Errorf("level %q: %w", cfg.App.LogLevel, err))
	}
	serviceLogger = base.With().Str("service", serviceName).Logger()
	return cfg, serviceLogger, nil
}
