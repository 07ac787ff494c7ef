package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "List and validate a session's checkpoints",
	Long: `Checkpoint inspects the durable checkpoint chain of a session. List shows
every checkpoint in timestamp order; validate recomputes each checksum and
grades every checkpoint's usability for recovery.`,
}

// --- list subcommand ---

var checkpointListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's checkpoints in timestamp order",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointList,
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	ids, err := store.ListCheckpoints(sessionID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-20s  %-14s  %-10s  %-10s  %-8s  %s\n",
		"Type", "Age", "Status", "Size", "Papers", "Checkpoint")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 130))

	for _, id := range ids {
		cp, lerr := store.LoadCheckpoint(sessionID, id)
		if lerr != nil {
			fmt.Fprintf(os.Stdout, "%-20s  %-14s  %-10s  %-10s  %-8s  %s\n",
				"?", "?", "missing", "-", "-", id)
			continue
		}
		fmt.Fprintf(os.Stdout, "%-20s  %-14s  %-10s  %-10s  %-8d  %s\n",
			cp.Type,
			humanize.Time(cp.Timestamp),
			cp.ValidationStatus,
			checkpointFileSize(store, sessionID, id),
			cp.TotalPapers,
			cp.ID)
	}
	fmt.Fprintf(os.Stdout, "\n%d checkpoints\n", len(ids))
	return nil
}

// checkpointFileSize reports the on-disk size of a checkpoint file, with a
// "gz" marker when the stored form is compressed.
func checkpointFileSize(store *state.Store, sessionID, id string) string {
	dir := store.CheckpointsDir(sessionID)
	if info, err := os.Stat(filepath.Join(dir, id+".json")); err == nil {
		return humanize.Bytes(uint64(info.Size()))
	}
	if info, err := os.Stat(filepath.Join(dir, id+".json.gz")); err == nil {
		return humanize.Bytes(uint64(info.Size())) + " gz"
	}
	return "-"
}

// --- validate subcommand ---

var checkpointValidateCmd = &cobra.Command{
	Use:   "validate <session-id>",
	Short: "Validate every checkpoint of a session",
	Long: `Validate recomputes each checkpoint's checksum and reports a per-checkpoint
integrity score, whether it passed, and whether it is usable for recovery
(score of at least 0.7), followed by a chain summary.`,
	RunE: runCheckpointValidate,
	Args: cobra.ExactArgs(1),
}

func runCheckpointValidate(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	results, err := store.ValidateCheckpoints(sessionID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-9s  %-7s  %-8s  %-30s  %s\n",
		"Integrity", "Passed", "Usable", "Issues", "Checkpoint")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 130))
	for _, r := range results {
		issues := strings.Join(r.Issues, "; ")
		if issues == "" {
			issues = "-"
		}
		if len(issues) > 30 {
			issues = issues[:27] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-9.2f  %-7t  %-8t  %-30s  %s\n",
			r.IntegrityScore, r.Passed, r.UsableForRecovery, issues, r.CheckpointID)
	}

	manager := newManager(store, cfg)
	summary, err := manager.CheckpointSummary(sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d checkpoints: valid %d, corrupted %d, incomplete %d; average integrity %.2f\n",
		summary.Total,
		summary.ByValidity[types.ValidationValid],
		summary.ByValidity[types.ValidationCorrupted],
		summary.ByValidity[types.ValidationIncomplete],
		summary.AverageIntegrity)
	if summary.HasRecoveryOptions {
		fmt.Println("Recovery options available.")
	} else {
		fmt.Println("WARNING: no checkpoint is usable for recovery.")
	}
	return nil
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointValidateCmd)

	rootCmd.AddCommand(checkpointCmd)
}
