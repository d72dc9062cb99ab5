package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/binanceclient"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/logger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/utils"
)

var klinesCmd = &cobra.Command{
	Use:   "klines",
	Short: "Fetch recent candlesticks to a CSV file",
	Long: `Fetch recent candlesticks for a symbol and write them to CSV, for
inspecting the data the signal provider derives scores from. Uses public
endpoints only; no API keys are required.`,
	RunE: runKlines,
}

var (
	klinesSymbol   string
	klinesInterval string
	klinesLimit    int
	klinesOut      string
	klinesTestnet  bool
)

func init() {
	rootCmd.AddCommand(klinesCmd)

	klinesCmd.Flags().StringVar(&klinesSymbol, "symbol", "BTCUSDT", "trading symbol")
	klinesCmd.Flags().StringVar(&klinesInterval, "interval", "1h", "kline interval")
	klinesCmd.Flags().IntVar(&klinesLimit, "limit", 500, "number of klines to fetch")
	klinesCmd.Flags().StringVar(&klinesOut, "out", "", "output file (default <symbol>_<interval>.csv)")
	klinesCmd.Flags().BoolVar(&klinesTestnet, "testnet", false, "use the testnet API")
}

func runKlines(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	appLogger := logger.NewStdLoggerTo(os.Stderr, logger.LevelWarn)

	client, err := binanceclient.New(binanceclient.Config{
		UseTestnet: klinesTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		return fmt.Errorf("create exchange client: %w", err)
	}

	klines, err := client.GetKlines(ctx, klinesSymbol, klinesInterval, klinesLimit)
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}

	out := klinesOut
	if out == "" {
		out = fmt.Sprintf("%s_%s.csv", klinesSymbol, klinesInterval)
	}
	if err := utils.WriteKlinesToCSV(klines, out); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d klines to %s\n", len(klines), out)
	return nil
}
