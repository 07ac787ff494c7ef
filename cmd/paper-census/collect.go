package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-census/internal/catalog"
	"github.com/pdiddy/paper-census/internal/checkpoint"
	"github.com/pdiddy/paper-census/internal/monitor"
	"github.com/pdiddy/paper-census/internal/orchestrator"
	"github.com/pdiddy/paper-census/internal/sources"
	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

var collectCmd = &cobra.Command{
	Use:   "collect <session-id>",
	Short: "Run collection for an active session",
	Long: `Collect runs the collection workflow for an active session: every pending
venue/year pair is fetched from the enabled bibliographic APIs with bounded
concurrency, per-pair retries and periodic checkpointing. Collected papers
land in the SQLite catalog under the base directory.

The first interrupt (Ctrl-C) pauses the session gracefully: no new pairs are
submitted, in-flight pairs finish and their results are checkpointed. A
second interrupt abandons the run; use the recover subcommands afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg := engineConfig(cmd)
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	sess, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	if sess.Status != types.SessionActive {
		return fmt.Errorf("session %s is %s; run \"paper-census recover resume %s\" to reactivate it",
			sess.ID, sess.Status, sess.ID)
	}

	manager := newManager(store, cfg)
	results, err := runCollection(context.Background(), cfg, store, manager, sess)
	if results != nil {
		printResults(os.Stdout, sess, results)
	}
	return err
}

// buildAPI assembles the collection client stack from the enabled sources.
// With more than one source enabled, the clients form an ordered fallback
// chain.
func buildAPI(cfg types.CollectionConfig) (orchestrator.CollectionAPI, error) {
	var clients []sources.Client
	if cfg.EnableOpenAlex {
		clients = append(clients, sources.NewOpenAlexClient(cfg))
	}
	if cfg.EnableSemanticScholar {
		clients = append(clients, sources.NewSemanticScholarClient(cfg))
	}
	switch len(clients) {
	case 0:
		return nil, fmt.Errorf("no collection sources enabled; enable at least one in the config")
	case 1:
		return clients[0], nil
	default:
		return sources.NewComposite(clients...), nil
	}
}

// runCollection wires the monitors, catalog and API clients to a fresh
// coordinator and drives the session until it completes, pauses or is
// abandoned. The first interrupt signal requests a graceful stop, the
// second cancels the run outright.
func runCollection(ctx context.Context, cfg types.EngineConfig, store *state.Store,
	manager *checkpoint.Manager, sess *types.CollectionSession) (*orchestrator.SessionResults, error) {

	api, err := buildAPI(cfg.Collection)
	if err != nil {
		return nil, err
	}

	papers, err := catalog.Open(catalogPath(cfg))
	if err != nil {
		return nil, err
	}
	defer papers.Close()

	deps := orchestrator.Deps{
		API:      api,
		Health:   monitor.NewHealthTracker(0),
		Limiter:  monitor.NewTokenBucketLimiter(cfg.Collection.RatePerSecond, cfg.Collection.Burst),
		Quality:  monitor.NewQualityChecker(monitor.DefaultQualityThresholds()),
		Sink:     papers,
		Manager:  manager,
		Store:    store,
		Progress: os.Stderr,
	}
	coord, err := orchestrator.NewCoordinator(deps, cfg.Orchestrator, logger)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "interrupt: pausing after in-flight pairs finish (interrupt again to abandon)")
			coord.Stop()
		case <-runCtx.Done():
			return
		}
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "second interrupt: abandoning the run")
			cancel()
		case <-runCtx.Done():
		}
	}()

	return coord.CoordinateSession(runCtx, sess)
}

// printResults writes the per-venue outcome summary of one run.
func printResults(w *os.File, sess *types.CollectionSession, r *orchestrator.SessionResults) {
	fmt.Fprintf(w, "\nCollection finished: status %s, %d completed, %d failed, %s papers in %s\n",
		sess.Status, len(r.CompletedVenues), len(r.FailedVenues),
		humanize.Comma(int64(r.TotalPapers)), r.Duration.Round(time.Millisecond))

	for _, key := range r.CompletedVenues {
		fmt.Fprintf(w, "  %-24s %s papers\n", key.String(), humanize.Comma(int64(r.PapersByVenue.Get(key))))
	}
	if len(r.FailedVenues) > 0 {
		fmt.Fprintln(w, "Failed:")
		pairs := make([]string, 0, len(r.FailedVenues))
		for k := range r.FailedVenues {
			pairs = append(pairs, k)
		}
		sort.Strings(pairs)
		for _, k := range pairs {
			fmt.Fprintf(w, "  %-24s %s\n", k, r.FailedVenues[k])
		}
	}
	if pending := sess.NotStarted(); pending.Len() > 0 {
		fmt.Fprintf(w, "Not collected this run: %s\n", strings.Join(pending.Strings(), ", "))
	}
}
