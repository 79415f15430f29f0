package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/croplink/display"
	"github.com/teranos/croplink/pulse/async"
)

// DeadLetterCmd groups dead-letter commands
var DeadLetterCmd = &cobra.Command{
	Use:     "deadletter",
	Aliases: []string{"dl"},
	Short:   "Inspect and replay dead-lettered jobs",
	Long: `Jobs that failed terminally, or ran out of attempts, are recorded in the
dead-letter store with the error type and the offending field. After the
cause is fixed (a missing farmer registered, a source config corrected) a
job can be replayed: it is re-queued with a fresh attempt budget.

Examples:
  croplink deadletter ls --source qc-results
  croplink deadletter replay 5d0c8f9e-...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var deadLetterLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List dead-letter entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		return listDeadLetters(cmd.Context(), cmd.OutOrStdout(), async.NewQueue(database), sourceID, limit, display.ShouldOutputJSON(cmd))
	},
}

var deadLetterReplayCmd = &cobra.Command{
	Use:   "replay <ingestion-id>",
	Short: "Re-queue a dead-lettered job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		return replayDeadLetter(cmd.Context(), cmd.OutOrStdout(), async.NewQueue(database), args[0])
	},
}

func init() {
	deadLetterLsCmd.Flags().String("source", "", "Filter by source id")
	deadLetterLsCmd.Flags().Int("limit", 20, "Maximum number of entries to display")

	DeadLetterCmd.AddCommand(deadLetterLsCmd)
	DeadLetterCmd.AddCommand(deadLetterReplayCmd)
}

func listDeadLetters(ctx context.Context, w io.Writer, queue *async.Queue, sourceID string, limit int, asJSON bool) error {
	entries, err := queue.Store().ListDeadLetters(ctx, sourceID, 0, limit)
	if err != nil {
		return err
	}
	if asJSON {
		if entries == nil {
			entries = []*async.DeadLetterEntry{}
		}
		return display.JSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No dead-letter entries")
		return nil
	}

	data := pterm.TableData{{"INGESTION ID", "SOURCE", "ERROR TYPE", "FIELD", "ATTEMPTS", "FAILED AT"}}
	for _, e := range entries {
		field := e.FieldName
		if e.FieldValue != "" {
			field += "=" + e.FieldValue
		}
		data = append(data, []string{
			truncate(e.IngestionID, 13),
			e.SourceID,
			e.ErrorType,
			truncate(field, 32),
			strconv.Itoa(e.AttemptCount),
			e.LastErrorAt.Format("2006-01-02 15:04"),
		})
	}
	if err := display.Table(w, data); err != nil {
		return err
	}

	total, err := queue.Store().CountDeadLetters(ctx, sourceID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nShowing %d of %d entr(ies)\n", len(entries), total)
	return nil
}

func replayDeadLetter(ctx context.Context, w io.Writer, queue *async.Queue, id string) error {
	job, err := queue.Replay(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Job %s re-queued (source %s, %d attempts available)\n", job.ID, job.SourceID, job.MaxAttempts)
	return nil
}
