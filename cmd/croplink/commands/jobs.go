package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/croplink/display"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/pulse/async"
)

// JobsCmd groups ingestion job commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect ingestion jobs",
	Long: `Inspect ingestion jobs.

Examples:
  croplink jobs ls                          # Most recent jobs
  croplink jobs ls --status failed --source qc-results
  croplink jobs show 5d0c8f9e-...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List ingestion jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		sourceID, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		if status != "" && !async.IsValidStatus(status) {
			return errors.NewInvalidRequestError("unknown status %q (queued, processing, completed, failed)", status)
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		filter := async.JobFilter{Status: async.JobStatus(status), SourceID: sourceID}
		return listJobs(cmd.Context(), cmd.OutOrStdout(), async.NewQueue(database), filter, limit, display.ShouldOutputJSON(cmd))
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		return showJob(cmd.Context(), cmd.OutOrStdout(), async.NewQueue(database), args[0], display.ShouldOutputJSON(cmd))
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (queued, processing, completed, failed)")
	jobsLsCmd.Flags().String("source", "", "Filter by source id")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
}

func listJobs(ctx context.Context, w io.Writer, queue *async.Queue, filter async.JobFilter, limit int, asJSON bool) error {
	jobs, err := queue.Store().ListJobs(ctx, filter, 0, limit)
	if err != nil {
		return err
	}
	if asJSON {
		if jobs == nil {
			jobs = []*async.Job{}
		}
		return display.JSON(w, jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	data := pterm.TableData{{"JOB ID", "SOURCE", "STATUS", "ATTEMPTS", "PATH", "CREATED"}}
	for _, job := range jobs {
		data = append(data, []string{
			truncate(job.ID, 13),
			job.SourceID,
			string(job.Status),
			strconv.Itoa(job.AttemptCount) + "/" + strconv.Itoa(job.MaxAttempts),
			truncate(job.Path, 48),
			job.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	if err := display.Table(w, data); err != nil {
		return err
	}

	total, err := queue.Store().CountJobs(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nShowing %d of %d job(s)\n", len(jobs), total)
	return nil
}

func showJob(ctx context.Context, w io.Writer, queue *async.Queue, id string, asJSON bool) error {
	job, err := queue.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return display.JSON(w, job)
	}

	fmt.Fprintf(w, "Job:       %s\n", job.ID)
	fmt.Fprintf(w, "Source:    %s (%s)\n", job.SourceID, job.Mode)
	if job.TenantID != "" {
		fmt.Fprintf(w, "Tenant:    %s\n", job.TenantID)
	}
	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	fmt.Fprintf(w, "Attempts:  %d/%d\n", job.AttemptCount, job.MaxAttempts)
	fmt.Fprintf(w, "Location:  %s/%s\n", job.Container, job.Path)
	fmt.Fprintf(w, "Version:   %s\n", job.ContentVersionToken)
	fmt.Fprintf(w, "Trace:     %s\n", job.TraceID)
	if job.DocumentID != "" {
		fmt.Fprintf(w, "Document:  %s\n", job.DocumentID)
	}
	if job.LastError != "" {
		fmt.Fprintf(w, "Error:     [%s] %s\n", job.LastErrorType, job.LastError)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Observed:  %s\n", job.ObservedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Fprintf(w, "Started:   %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	} else if job.Status == async.JobStatusQueued {
		fmt.Fprintf(w, "Next try:  %s\n", job.NextAttemptAt.Format("2006-01-02 15:04:05"))
	}

	for _, k := range sortedKeys(job.Metadata) {
		fmt.Fprintf(w, "  %s = %s\n", k, job.Metadata[k])
	}
	return nil
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
