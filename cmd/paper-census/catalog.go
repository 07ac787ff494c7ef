package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-census/internal/catalog"
	"github.com/pdiddy/paper-census/pkg/types"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and export the collected paper catalog",
	Long: `Catalog works with the SQLite database holding every collected paper.
Stats summarizes one session's contents; export writes the papers of one
venue/year pair as JSON.`,
}

// --- stats subcommand ---

var catalogStatsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Summarize a session's collected papers",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogStats,
}

func runCatalogStats(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	cfg := engineConfig(cmd)

	papers, err := catalog.Open(catalogPath(cfg))
	if err != nil {
		return err
	}
	defer papers.Close()

	ctx := context.Background()
	stats, err := papers.SessionStats(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Catalog stats for %s\n", sessionID)
	fmt.Printf("  Papers:       %s\n", humanize.Comma(int64(stats.TotalPapers)))
	fmt.Printf("  Venue pairs:  %d\n", stats.VenuePairs)
	if !stats.FirstCollectedAt.IsZero() {
		fmt.Printf("  First/last:   %s / %s\n",
			humanize.Time(stats.FirstCollectedAt), humanize.Time(stats.LastCollectedAt))
	}
	if len(stats.BySource) > 0 {
		fmt.Println("  By source:")
		names := make([]string, 0, len(stats.BySource))
		for name := range stats.BySource {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %-18s %s\n", name, humanize.Comma(int64(stats.BySource[name])))
		}
	}

	counts, err := papers.CountByVenue(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println("  By venue/year:")
		pairs := make([]string, 0, len(counts))
		for k := range counts {
			pairs = append(pairs, k)
		}
		sort.Strings(pairs)
		for _, k := range pairs {
			fmt.Printf("    %-18s %s\n", k, humanize.Comma(int64(counts[k])))
		}
	}
	return nil
}

// --- export subcommand ---

var catalogExportCmd = &cobra.Command{
	Use:   "export <session-id> <venue:year>",
	Short: "Export one venue/year pair's papers as JSON",
	Long: `Export writes every collected paper of one venue/year pair as indented
JSON, to stdout or to the file given with --out.`,
	Args: cobra.ExactArgs(2),
	RunE: runCatalogExport,
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	key, err := types.ParseVenueKey(args[1])
	if err != nil {
		return err
	}
	outPath, _ := cmd.Flags().GetString("out")

	cfg := engineConfig(cmd)
	papers, err := catalog.Open(catalogPath(cfg))
	if err != nil {
		return err
	}
	defer papers.Close()

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := papers.ExportVenue(context.Background(), sessionID, key, out)
	if err != nil {
		return err
	}
	if outPath != "" {
		fmt.Printf("Exported %d papers for %s to %s\n", n, key, outPath)
	}
	return nil
}

func init() {
	catalogExportCmd.Flags().String("out", "", "write the export to this file instead of stdout")

	catalogCmd.AddCommand(catalogStatsCmd)
	catalogCmd.AddCommand(catalogExportCmd)

	rootCmd.AddCommand(catalogCmd)
}
