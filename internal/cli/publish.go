package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/payments-gateway/internal/app"
	"github.com/example/payments-gateway/internal/config"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one payment request to payments.exchange",
	Long: `Reads a JSON payment request from --file, or from stdin when no file is
given, and publishes it as a persistent message. The payload is sent as is,
so malformed requests can be used to exercise the dead-letter path.`,
	Example: `  echo '{"name":"Widget","price":9.99}' | payments-gateway publish
  payments-gateway publish --file payment.json`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringP("file", "f", "", "Read the payload from this file instead of stdin")
}

func runPublish(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")

	body, err := readPayload(path, cmd.InOrStdin())
	if err != nil {
		return atStage("read payload", err)
	}

	cfg, log, err := setup(config.LoadBroker)
	if err != nil {
		return err
	}

	id, err := app.Publish(cmd.Context(), cfg, log, body)
	if err != nil {
		return atStage("publish", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if path != "" {
		body, err = os.ReadFile(path)
	} else {
		body, err = io.ReadAll(stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("payload is empty")
	}
	return body, nil
}
