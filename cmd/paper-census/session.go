// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, list and inspect collection sessions",
	Long: `Session manages collection sessions: durable records of which venue/year
pairs a run targets and how far it got. Sessions are created from a YAML
venue plan, listed with their progress, and inspected individually.`,
}

// --- create subcommand ---

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session from a venue plan",
	Long: `Create reads a YAML venue plan (venue names, target years, per-year caps,
priorities), builds a new session targeting every venue/year pair in it, and
persists the session's immutable config snapshot and initial status.`,
	RunE: runSessionCreate,
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	planPath, _ := cmd.Flags().GetString("venues")
	if planPath == "" {
		return fmt.Errorf("provide a venue plan with --venues")
	}
	id, _ := cmd.Flags().GetString("id")

	plan, err := state.ReadVenuePlan(planPath)
	if err != nil {
		return err
	}

	sess, err := types.NewCollectionSession(id, plan.Venues)
	if err != nil {
		return err
	}

	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	if err := store.CreateSession(sess); err != nil {
		return err
	}

	fmt.Printf("Created session %s\n", sess.ID)
	if plan.Name != "" {
		fmt.Printf("  plan:     %s\n", plan.Name)
	}
	fmt.Printf("  targets:  %d venue/year pairs across %d venues\n",
		len(sess.Targets()), len(sess.Venues))
	fmt.Printf("  state:    %s\n", store.SessionDir(sess.ID))
	return nil
}

// --- list subcommand ---

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions with their progress",
	RunE:  runSessionList,
}

func runSessionList(cmd *cobra.Command, args []string) error {
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	summaries, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-12s  %-10s  %-8s  %-8s  %-12s  %s\n",
		"Session", "Status", "Progress", "Failed", "Papers", "Checkpoints", "Last activity")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))

	for _, s := range summaries {
		if s.Status == "" {
			fmt.Fprintf(os.Stdout, "%-36s  %-12s  (status file unreadable)\n", s.ID, "?")
			continue
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-12s  %-10s  %-8d  %-8s  %-12d  %s\n",
			s.ID,
			s.Status,
			fmt.Sprintf("%d/%d", s.CompletedCount, s.TargetCount),
			s.FailedCount,
			humanize.Comma(int64(s.TotalPapers)),
			s.CheckpointCount,
			humanize.Time(s.LastActivityAt))
	}
	fmt.Fprintf(os.Stdout, "\n%d sessions\n", len(summaries))
	return nil
}

// --- show subcommand ---

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's status, progress and checkpoint summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("  Status:        %s\n", sess.Status)
	fmt.Printf("  Created:       %s (%s)\n", sess.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(sess.CreatedAt))
	fmt.Printf("  Last activity: %s (%s)\n", sess.LastActivityAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(sess.LastActivityAt))
	fmt.Printf("  Targets:       %d pairs across %d venues\n", len(sess.Targets()), len(sess.Venues))
	fmt.Printf("  Completed:     %s\n", formatSet(sess.Completed))
	fmt.Printf("  In progress:   %s\n", formatSet(sess.InProgress))
	fmt.Printf("  Failed:        %s\n", formatSet(sess.Failed))
	fmt.Printf("  Not started:   %s\n", formatSet(sess.NotStarted()))
	fmt.Printf("  Papers:        %s\n", humanize.Comma(int64(sess.TotalPapers())))

	if len(sess.FailureMessages) > 0 {
		fmt.Println("  Failure messages:")
		pairs := make([]string, 0, len(sess.FailureMessages))
		for k := range sess.FailureMessages {
			pairs = append(pairs, k)
		}
		sort.Strings(pairs)
		for _, k := range pairs {
			fmt.Printf("    %-24s %s\n", k, sess.FailureMessages[k])
		}
	}

	manager := newManager(store, cfg)
	summary, err := manager.CheckpointSummary(sess.ID)
	if err != nil {
		return err
	}
	fmt.Printf("  Checkpoints:   %d total (valid %d, corrupted %d, incomplete %d), avg integrity %.2f\n",
		summary.Total,
		summary.ByValidity[types.ValidationValid],
		summary.ByValidity[types.ValidationCorrupted],
		summary.ByValidity[types.ValidationIncomplete],
		summary.AverageIntegrity)
	if summary.LatestID != "" {
		fmt.Printf("  Latest:        %s (%s)\n", summary.LatestID, humanize.Time(summary.LatestAt))
	}
	if !summary.HasRecoveryOptions && summary.Total > 0 {
		fmt.Println("  WARNING: no checkpoint is usable for recovery")
	}
	return nil
}

// formatSet renders a venue set as "n: a, b, c", truncating long lists.
func formatSet(s types.VenueSet) string {
	const maxShown = 8
	members := s.Strings()
	if len(members) == 0 {
		return "0"
	}
	shown := members
	suffix := ""
	if len(members) > maxShown {
		shown = members[:maxShown]
		suffix = fmt.Sprintf(", and %d more", len(members)-maxShown)
	}
	return fmt.Sprintf("%d: %s%s", len(members), strings.Join(shown, ", "), suffix)
}

func init() {
	sessionCreateCmd.Flags().String("venues", "", "YAML venue plan file (required)")
	sessionCreateCmd.Flags().String("id", "", "session id (generated when empty)")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)

	rootCmd.AddCommand(sessionCmd)
}
