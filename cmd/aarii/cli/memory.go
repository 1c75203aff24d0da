package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/felixgeelhaar/aarii/internal/guard"
	"github.com/spf13/cobra"
)

var (
	topK         int
	historyLimit int
)

var errMemoryDisabled = errors.New("memory is disabled in the configuration (memory.enabled: false)")

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain long-term memory",
}

// withMemory opens the app with memory required and runs fn.
func withMemory(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Memory == nil {
		return errMemoryDisabled
	}
	return fn(ctx, a)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var memoryAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Store a memory in the current session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(ctx context.Context, a *App) error {
			session := guard.NormalizeSession(sessionID)
			id, err := a.Memory.AddMemory(ctx, session, strings.Join(args, " "), map[string]any{"source": "manual"})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "session_id": session})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory saved: #%d\n", id)
			return nil
		})
	},
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Find the memories most similar to text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(ctx context.Context, a *App) error {
			k := topK
			if k <= 0 {
				k = a.Config.Memory.TopK
			}
			results, err := a.Memory.QueryMemory(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no memories)")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tID\tTEXT")
			for _, r := range results {
				fmt.Fprintf(w, "%.3f\t#%d\t%s\n", r.Score, r.RecordID, oneLine(r.Text))
			}
			return w.Flush()
		})
	},
}

var memoryHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the newest records of the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(ctx context.Context, a *App) error {
			records, err := a.Memory.History(ctx, guard.NormalizeSession(sessionID), historyLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tSOURCE\tTEXT")
			for _, r := range records {
				fmt.Fprintf(w, "#%d\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Source(), oneLine(r.Text))
			}
			return w.Flush()
		})
	},
}

var memoryVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the index, the mapping and the record log against each other",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(ctx context.Context, a *App) error {
			report, err := a.Memory.Verify(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Index slots:       %d\n", report.Slots)
				fmt.Fprintf(out, "Mappings:          %d\n", report.Mappings)
				fmt.Fprintf(out, "Orphaned records:  %d\n", len(report.OrphanedRecords))
				printIDs(out, "Unmapped slots", report.UnmappedSlots)
				printIDs(out, "Out-of-range slots", report.OutOfRangeSlots)
				printIDs(out, "Duplicate slots", report.DuplicateSlots)
				printIDs(out, "Duplicate records", report.DuplicateRecords)
				printIDs(out, "Missing records", report.MissingRecords)
			}
			if !report.Consistent() {
				return errors.New("memory is inconsistent; run `aarii memory reindex`")
			}
			if !jsonOutput {
				fmt.Fprintln(out, "OK")
			}
			return nil
		})
	},
}

var memoryOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List records that were stored but never indexed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(ctx context.Context, a *App) error {
			records, err := a.Store.OrphanedRecords(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no orphaned records)")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSESSION\tTEXT")
			for _, r := range records {
				fmt.Fprintf(w, "#%d\t%s\t%s\n", r.ID, r.SessionID, oneLine(r.Text))
			}
			return w.Flush()
		})
	},
}

var memoryReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every mapped record into a fresh index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(cmd, func(ctx context.Context, a *App) error {
			n, err := a.Memory.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d memories\n", n)
			return nil
		})
	},
}

func printIDs(out io.Writer, label string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	fmt.Fprintf(out, "%s: %s\n", label, strings.Join(parts, ", "))
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return s
}

func init() {
	RootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryAddCmd, memoryQueryCmd, memoryHistoryCmd, memoryVerifyCmd, memoryOrphansCmd, memoryReindexCmd)
	memoryQueryCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default memory.top_k)")
	memoryHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records, 0 for all")
}
