package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/merchantry/ordersync/internal/sync"
)

// errParityMismatch signals discrepancies via exit code 1 without the
// wrapper's "Error:" prefix, so scripts can gate cutover on it.
var errParityMismatch = errors.New("parity mismatch")

func newParityCmd() *cobra.Command {
	var flagWindow string

	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Compare this pipeline's output against the legacy snapshot",
		Long: `Compare orders written by this pipeline against the legacy pipeline's
shadow snapshot over a trailing window, field for field. Exits 0 when the
window matches completely, 1 when any discrepancy is found.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window := resolvedCfg.Shadow.ParityWindowDuration()

			if cmd.Flags().Changed("window") {
				parsed, err := time.ParseDuration(flagWindow)
				if err != nil {
					return err
				}

				window = parsed
			}

			return runParity(cmd, window)
		},
	}

	cmd.Flags().StringVar(&flagWindow, "window", "", "trailing comparison window (e.g. 48h)")

	return cmd
}

func runParity(cmd *cobra.Command, window time.Duration) error {
	logger := buildLogger()
	ctx := cmd.Context()

	store, err := openStore(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now()
	validator := sync.NewParityValidator(store, logger)

	report, err := validator.ValidateParity(ctx, to.Add(-window), to)
	if err != nil {
		return fmt.Errorf("parity check: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printParityReport(report)
	}

	if !report.CutoverReady() {
		return errParityMismatch
	}

	return nil
}

func printParityReport(report *sync.ParityReport) {
	statusf("Compared window %s to %s\n",
		report.From.Format(watermarkTimeFormat), report.To.Format(watermarkTimeFormat))

	if report.CutoverReady() {
		fmt.Printf("Parity OK: %s orders match\n", formatCount(report.MatchedCount))
		return
	}

	fmt.Printf("Parity FAILED: %s matched, %s discrepancies\n",
		formatCount(report.MatchedCount), formatCount(len(report.Discrepancies)))
	fmt.Println()

	rows := make([][]string, 0, len(report.Discrepancies))

	for _, d := range report.Discrepancies {
		rows = append(rows, []string{d.Key, d.Field, d.Legacy, d.New})
	}

	printTable(os.Stdout, []string{"ORDER", "FIELD", "LEGACY", "NEW"}, rows)
}
