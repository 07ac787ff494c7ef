// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-census/internal/catalog"
	"github.com/pdiddy/paper-census/internal/recovery"
	"github.com/pdiddy/paper-census/pkg/types"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Analyze an interrupted session, plan its recovery, and resume it",
	Long: `Recover works with sessions that stopped without completing: a crash, a
kill, or a manual pause. Analyze reconstructs what happened from the
checkpoint chain; plan turns the analysis into a resumption proposal with a
confidence score; resume restores the session from the plan's checkpoint and
reactivates it, optionally continuing collection in the same invocation.`,
}

// --- analyze subcommand ---

var recoverAnalyzeCmd = &cobra.Command{
	Use:   "analyze <session-id>",
	Short: "Reconstruct what happened to an interrupted session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoverAnalyze,
}

func runRecoverAnalyze(cmd *cobra.Command, args []string) error {
	engine, closeCatalog, err := buildRecoveryEngine(cmd)
	if err != nil {
		return err
	}
	defer closeCatalog()

	analysis, err := engine.AnalyzeInterruption(context.Background(), args[0])
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(analysis)
	}
	printAnalysis(analysis)
	return nil
}

func printAnalysis(a *types.InterruptionAnalysis) {
	fmt.Printf("Interruption analysis for %s\n", a.SessionID)
	if a.LastCheckpointID != "" {
		fmt.Printf("  Last checkpoint:      %s (%s)\n", a.LastCheckpointID, humanize.Time(a.LastCheckpointAt))
	} else {
		fmt.Println("  Last checkpoint:      none")
	}
	fmt.Printf("  Complexity:           %s\n", a.Complexity)
	fmt.Printf("  Cause:                %s (confidence %.2f)\n", a.Cause.Type, a.Cause.Confidence)
	for _, ev := range a.Cause.Evidence {
		fmt.Printf("    - %s\n", ev)
	}
	fmt.Printf("  Definitely completed: %s\n", formatSet(a.VenuesDefinitelyCompleted))
	fmt.Printf("  Possibly incomplete:  %s\n", formatSet(a.VenuesPossiblyIncomplete))
	fmt.Printf("  Unknown status:       %s\n", formatSet(a.VenuesUnknownStatus))
	fmt.Printf("  Not started:          %s\n", formatSet(a.VenuesNotStarted))
	fmt.Printf("  Checkpoints:          %d valid, %d corrupted, %d missing\n",
		len(a.ValidCheckpoints), len(a.CorruptedCheckpoints), len(a.MissingCheckpoints))
	fmt.Printf("  Papers:               ~%s collected, ~%s lost after the last durable checkpoint\n",
		humanize.Comma(int64(a.EstimatedPapersCollected)), humanize.Comma(int64(a.EstimatedPapersLost)))
	fmt.Printf("  Analysis took:        %s\n", a.AnalysisDuration.Round(time.Millisecond))
}

// --- plan subcommand ---

var recoverPlanCmd = &cobra.Command{
	Use:   "plan <session-id>",
	Short: "Turn an interruption analysis into a recovery plan",
	Long: `Plan analyzes the session and derives an actionable recovery plan: the
resumption strategy, the checkpoint to restore from, which venues to skip,
validate or restart, and a confidence score with the known risks. The plan
is archived under the session's recovery directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecoverPlan,
}

func runRecoverPlan(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	engine, closeCatalog, err := buildRecoveryEngine(cmd)
	if err != nil {
		return err
	}
	defer closeCatalog()

	analysis, err := engine.AnalyzeInterruption(context.Background(), sessionID)
	if err != nil {
		return err
	}
	plan, err := engine.CreateRecoveryPlan(sessionID, analysis)
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(plan)
	}
	printPlan(plan)
	return nil
}

func printPlan(p *types.RecoveryPlan) {
	fmt.Printf("Recovery plan for %s\n", p.SessionID)
	fmt.Printf("  Strategy:            %s\n", p.Strategy)
	if p.OptimalCheckpointID != "" {
		fmt.Printf("  Restore from:        %s\n", p.OptimalCheckpointID)
	} else {
		fmt.Println("  Restore from:        nothing (clean restart)")
	}
	fmt.Printf("  Skip (completed):    %s\n", formatSet(p.VenuesToSkip))
	fmt.Printf("  Resume:              %s\n", formatSet(p.VenuesToResume))
	fmt.Printf("  Restart:             %s\n", formatSet(p.VenuesToRestart))
	fmt.Printf("  Validate:            %s\n", formatSet(p.VenuesToValidate))
	if len(p.CorruptedDataToDiscard) > 0 {
		fmt.Printf("  Discard:             %d corrupted checkpoints\n", len(p.CorruptedDataToDiscard))
	}
	fmt.Printf("  Estimated recovery:  %s, ~%s papers recoverable\n",
		p.EstimatedRecoveryTime, humanize.Comma(int64(p.EstimatedPapersRecoverable)))
	fmt.Printf("  Confidence:          %.2f\n", p.Confidence)
	for _, r := range p.Risks {
		fmt.Printf("    risk: %s\n", r)
	}
}

// --- resume subcommand ---

var recoverResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Restore a session from its recovery plan and reactivate it",
	Long: `Resume analyzes the session, derives a fresh recovery plan, restores the
session's progress from the plan's optimal checkpoint, reactivates it, and
runs state-consistency validation. With --continue, collection starts
immediately when the restored session is ready for continuation.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecoverResume,
}

func runRecoverResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	manager := newManager(store, cfg)

	papers, err := catalog.Open(catalogPath(cfg))
	if err != nil {
		return err
	}
	defer papers.Close()
	engine := recovery.NewEngine(store, manager, cfg.Recovery, papers, logger)

	ctx := context.Background()
	analysis, err := engine.AnalyzeInterruption(ctx, sessionID)
	if err != nil {
		return err
	}
	plan, err := engine.CreateRecoveryPlan(sessionID, analysis)
	if err != nil {
		return err
	}
	result, err := engine.ResumeSession(ctx, sessionID, plan)
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printResumeResult(result)
	}

	cont, _ := cmd.Flags().GetBool("continue")
	if !cont {
		return nil
	}
	if !result.ReadyForContinuation {
		return fmt.Errorf("session %s is not ready for continuation; inspect the consistency checks and warnings", sessionID)
	}

	sess, err := store.LoadSession(sessionID)
	if err != nil {
		return err
	}
	results, err := runCollection(ctx, cfg, store, manager, sess)
	if results != nil {
		printResults(os.Stdout, sess, results)
	}
	return err
}

func printResumeResult(r *types.SessionResumeResult) {
	fmt.Printf("Resumed session %s\n", r.SessionID)
	if r.RestoredFromCheckpoint != "" {
		fmt.Printf("  Restored from:     %s\n", r.RestoredFromCheckpoint)
	} else {
		fmt.Println("  Restored from:     nothing (clean restart)")
	}
	fmt.Printf("  Completed:         %s\n", formatSet(r.RestoredCompleted))
	fmt.Printf("  In progress:       %s\n", formatSet(r.RestoredInProgress))
	fmt.Printf("  Failed:            %s\n", formatSet(r.RestoredFailed))
	for _, c := range r.ConsistencyChecks {
		verdict := "ok"
		if !c.Passed {
			verdict = fmt.Sprintf("FAILED (confidence %.1f)", c.Confidence)
		}
		fmt.Printf("  Check %-22s %s", c.Name+":", verdict)
		if c.Detail != "" {
			fmt.Printf(": %s", c.Detail)
		}
		if c.Recommendation != "" {
			fmt.Printf(" (recommend: %s)", c.Recommendation)
		}
		fmt.Println()
	}
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if r.ReadyForContinuation {
		fmt.Println("  Ready for continuation.")
	} else {
		fmt.Println("  NOT ready for continuation.")
	}
}

// --- shared helpers ---

// buildRecoveryEngine wires a recovery engine with the paper catalog as its
// paper counter. The returned closer releases the catalog handle.
func buildRecoveryEngine(cmd *cobra.Command) (*recovery.Engine, func(), error) {
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	manager := newManager(store, cfg)

	papers, err := catalog.Open(catalogPath(cfg))
	if err != nil {
		return nil, nil, err
	}
	engine := recovery.NewEngine(store, manager, cfg.Recovery, papers, logger)
	return engine, func() { papers.Close() }, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	recoverAnalyzeCmd.Flags().Bool("json", false, "output the analysis as JSON")
	recoverPlanCmd.Flags().Bool("json", false, "output the plan as JSON")
	recoverResumeCmd.Flags().Bool("json", false, "output the resume result as JSON")
	recoverResumeCmd.Flags().Bool("continue", false, "continue collection after a successful resume")

	recoverCmd.AddCommand(recoverAnalyzeCmd)
	recoverCmd.AddCommand(recoverPlanCmd)
	recoverCmd.AddCommand(recoverResumeCmd)

	rootCmd.AddCommand(recoverCmd)
}
