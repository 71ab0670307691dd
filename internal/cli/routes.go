package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/payments-gateway/internal/health"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the health server routes as Markdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), health.RoutesDoc())
		return nil
	},
}
