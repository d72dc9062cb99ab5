package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/logger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/sqlite"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the position book and realized results",
	Long: `Print the current open positions and realized trading results as JSON.

The report is derived offline from the local database: the fill journal is
replayed through the FIFO matcher, so the numbers are exactly what the
running service would compute. No exchange access is needed.`,
	RunE: runStatus,
}

var statusDBPath string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusDBPath, "db", "./data/rotator.db", "path to the rotator database")
}

type statusReport struct {
	Positions []*domain.Position     `json:"positions"`
	Realized  ledger.RealizedSummary `json:"realized"`
	Daily     ledger.DailyStats      `json:"daily"`
	Generated time.Time              `json:"generated"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	appLogger := logger.NewStdLoggerTo(os.Stderr, logger.LevelWarn)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: statusDBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	positions, err := repo.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	fills, err := repo.ListFills(ctx, 0)
	if err != nil {
		return fmt.Errorf("load fills: %w", err)
	}

	led := ledger.New(appLogger)
	if err := led.Replay(fills); err != nil {
		return fmt.Errorf("replay fills: %w", err)
	}
	res, err := led.MatchFIFO()
	if err != nil {
		return fmt.Errorf("match fills: %w", err)
	}

	report := statusReport{
		Positions: positions,
		Realized:  ledger.Summarize(res.Matches),
		Daily:     ledger.SummarizeDay(res.Matches, time.Now()),
		Generated: time.Now().UTC(),
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
