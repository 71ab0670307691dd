package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/payments-gateway/internal/app"
	"github.com/example/payments-gateway/internal/config"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Declare the topology and consume payments.queue",
	Long: `Connects to PostgreSQL and RabbitMQ, declares the payments topology and
processes payments.queue one message at a time until interrupted.

The process exits non-zero when the topology cannot be declared or the
broker connection is lost.`,
	RunE: runConsume,
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(config.Load)
	if err != nil {
		return err
	}
	return atStage("consume", app.Run(cmd.Context(), cfg, log))
}
