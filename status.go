package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/merchantry/ordersync/internal/sync"
)

const recentJobLimit = 10

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state: watermark, lock, and recent jobs",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	store, err := openStore(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	watermark, err := store.Watermark(ctx, sync.WorkflowOrders)
	if err != nil {
		return fmt.Errorf("reading watermark: %w", err)
	}

	runID, acquiredAt, held, err := store.LockHolder(ctx, sync.WorkflowOrders)
	if err != nil {
		return fmt.Errorf("reading lock: %w", err)
	}

	jobs, err := store.ListRecentJobs(ctx, recentJobLimit)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	to := time.Now()

	orders, err := store.ListOrdersModifiedBetween(ctx, to.Add(-24*time.Hour), to)
	if err != nil {
		return fmt.Errorf("listing recent orders: %w", err)
	}

	if flagJSON {
		return printStatusJSON(watermark, runID, acquiredAt, held, jobs, orders)
	}

	printStatusText(watermark, runID, acquiredAt, held, jobs, orders)

	return nil
}

// orderTotals sums order amounts per currency, rendered with formatCents in
// a stable currency order.
func orderTotals(orders []*sync.LocalOrder) string {
	if len(orders) == 0 {
		return "none"
	}

	totals := make(map[string]int64)
	for _, o := range orders {
		totals[o.Currency] += o.TotalCents
	}

	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}

	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		parts = append(parts, formatCents(totals[c], c))
	}

	return strings.Join(parts, ", ")
}

func printStatusJSON(watermark time.Time, runID string, acquiredAt time.Time, held bool, jobs []*sync.Job, orders []*sync.LocalOrder) error {
	type jobOut struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Status    string `json:"status"`
		Stage     int    `json:"stage"`
		Total     int    `json:"total_stages"`
		CreatedAt string `json:"created_at"`
	}

	out := struct {
		Watermark   time.Time `json:"watermark"`
		LockHeld    bool      `json:"lock_held"`
		LockRunID   string    `json:"lock_run_id,omitempty"`
		LockSince   string    `json:"lock_since,omitempty"`
		Orders24h   int       `json:"orders_24h"`
		Totals24h   string    `json:"totals_24h"`
		RecentJobs  []jobOut  `json:"recent_jobs"`
	}{
		Watermark:  watermark,
		LockHeld:   held,
		Orders24h:  len(orders),
		Totals24h:  orderTotals(orders),
		RecentJobs: make([]jobOut, 0, len(jobs)),
	}

	if held {
		out.LockRunID = runID
		out.LockSince = acquiredAt.UTC().Format(time.RFC3339)
	}

	for _, j := range jobs {
		out.RecentJobs = append(out.RecentJobs, jobOut{
			ID:        j.ID,
			Type:      string(j.Type),
			Status:    string(j.Status),
			Stage:     j.Stage,
			Total:     j.TotalStages,
			CreatedAt: time.Unix(0, j.CreatedAt).UTC().Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatusText(watermark time.Time, runID string, acquiredAt time.Time, held bool, jobs []*sync.Job, orders []*sync.LocalOrder) {
	fmt.Printf("Watermark: %s (%s)\n", watermark.Format(watermarkTimeFormat), formatAge(watermark))

	if held {
		fmt.Printf("Sync lock: held by run %s since %s\n", runID, formatTime(acquiredAt))
	} else {
		fmt.Println("Sync lock: free")
	}

	fmt.Printf("Orders (24h): %s modified, totals %s\n", formatCount(len(orders)), orderTotals(orders))

	if len(jobs) == 0 {
		fmt.Println("No jobs recorded")
		return
	}

	fmt.Println()

	rows := make([][]string, 0, len(jobs))

	for _, j := range jobs {
		progress := fmt.Sprintf("%d/%d", j.Stage, j.TotalStages)
		rows = append(rows, []string{
			j.ID,
			string(j.Type),
			string(j.Status),
			progress,
			formatTime(time.Unix(0, j.CreatedAt)),
		})
	}

	printTable(os.Stdout, []string{"JOB", "TYPE", "STATUS", "PROGRESS", "CREATED"}, rows)
}
