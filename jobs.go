package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/merchantry/ordersync/internal/sync"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect on-demand jobs",
		Long: `Talk to the running daemon's trigger surface. The daemon must be
started with "ordersync serve" and the HTTP server enabled.

Job types: daily_reconciliation, weekly_rollup, monthly_rollup.`,
	}

	cmd.AddCommand(newJobsTriggerCmd())
	cmd.AddCommand(newJobsShowCmd())

	return cmd
}

func newJobsTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <type>",
		Short: "Enqueue a job of the given type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsTrigger(args[0])
		},
	}
}

func newJobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's progress and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsShow(args[0])
		},
	}
}

func runJobsTrigger(jobType string) error {
	if !sync.KnownJobType(sync.JobType(jobType)) {
		return fmt.Errorf("unknown job type %q (daily_reconciliation, weekly_rollup, monthly_rollup)", jobType)
	}

	url := serverBaseURL(resolvedCfg.Server.ListenAddr) + "/v1/jobs/" + jobType

	resp, err := defaultHTTPClient().Post(url, "application/json", nil)
	if err != nil {
		return daemonUnreachable(err)
	}
	defer resp.Body.Close()

	var body struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding daemon response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		statusf("Job %s queued\n", body.JobID)
		fmt.Println(body.JobID)

		return nil
	case http.StatusConflict:
		statusf("%s (job %s)\n", body.Message, body.JobID)
		fmt.Println(body.JobID)

		return nil
	default:
		return fmt.Errorf("daemon rejected the request: %s", body.Error)
	}
}

func runJobsShow(jobID string) error {
	url := serverBaseURL(resolvedCfg.Server.ListenAddr) + "/v1/jobs/" + jobID

	resp, err := defaultHTTPClient().Get(url)
	if err != nil {
		return daemonUnreachable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading daemon response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job %s not found", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if flagJSON {
		os.Stdout.Write(raw)

		if !strings.HasSuffix(string(raw), "\n") {
			fmt.Println()
		}

		return nil
	}

	var job struct {
		JobID       string          `json:"job_id"`
		Type        string          `json:"type"`
		Status      string          `json:"status"`
		Stage       int             `json:"stage"`
		TotalStages int             `json:"total_stages"`
		StageName   string          `json:"stage_name"`
		Result      json.RawMessage `json:"result"`
		Error       string          `json:"error"`
	}

	if err := json.Unmarshal(raw, &job); err != nil {
		return fmt.Errorf("decoding daemon response: %w", err)
	}

	fmt.Printf("Job %s (%s): %s, stage %d/%d", job.JobID, job.Type, job.Status, job.Stage, job.TotalStages)

	if job.StageName != "" {
		fmt.Printf(" (%s)", job.StageName)
	}

	fmt.Println()

	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}

	if len(job.Result) > 0 {
		fmt.Printf("Result: %s\n", job.Result)
	}

	return nil
}

// daemonUnreachable wraps a transport error with a hint, since the common
// cause is that serve is not running.
func daemonUnreachable(err error) error {
	return fmt.Errorf("could not reach the daemon at %s (is \"ordersync serve\" running?): %w",
		serverBaseURL(resolvedCfg.Server.ListenAddr), err)
}
