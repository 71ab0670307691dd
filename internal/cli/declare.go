package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/payments-gateway/internal/app"
	"github.com/example/payments-gateway/internal/config"
)

var declareCmd = &cobra.Command{
	Use:   "declare",
	Short: "Declare the payments exchanges, queues and bindings",
	RunE:  runDeclare,
}

func runDeclare(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(config.LoadBroker)
	if err != nil {
		return err
	}
	if err := app.Declare(cmd.Context(), cfg, log); err != nil {
		return atStage("declare", err)
	}
	log.Info().Msg("topology declared")
	return nil
}
