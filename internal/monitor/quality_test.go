// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pdiddy/paper-census/pkg/types"
)

func makeBatch(n int, venue string, year int) []types.Paper {
	papers := make([]types.Paper, n)
	for i := range papers {
		papers[i] = types.Paper{
			ID:      fmt.Sprintf("W%04d", i),
			Title:   fmt.Sprintf("Paper %d", i),
			Authors: []string{"A. Author"},
			Venue:   venue,
			Year:    year,
		}
	}
	return papers
}

func TestCleanBatchPasses(t *testing.T) {
	q := NewQualityChecker(DefaultQualityThresholds())
	report := q.CheckCollectionQuality(makeBatch(50, "ICML", 2023), "ICML", 2023)
	if !report.Passed {
		t.Fatalf("clean batch should pass, issues: %v", report.Issues)
	}
}

func TestEmptyBatchPasses(t *testing.T) {
	q := NewQualityChecker(DefaultQualityThresholds())
	if report := q.CheckCollectionQuality(nil, "ICML", 2023); !report.Passed {
		t.Fatalf("empty batch should pass, issues: %v", report.Issues)
	}
}

func TestQualityDefectsFlagged(t *testing.T) {
	cases := []struct {
		name      string
		mangle    func([]types.Paper)
		wantIssue string
	}{
		{
			name: "duplicate ids",
			mangle: func(ps []types.Paper) {
				for i := 0; i < 10; i++ {
					ps[i].ID = "W0000"
				}
			},
			wantIssue: "duplicate",
		},
		{
			name: "empty titles",
			mangle: func(ps []types.Paper) {
				for i := 0; i < 5; i++ {
					ps[i].Title = "  "
				}
			},
			wantIssue: "without a title",
		},
		{
			name: "missing authors",
			mangle: func(ps []types.Paper) {
				for i := 0; i < 10; i++ {
					ps[i].Authors = nil
				}
			},
			wantIssue: "without authors",
		},
		{
			name: "wrong venue",
			mangle: func(ps []types.Paper) {
				for i := 0; i < 10; i++ {
					ps[i].Venue = "NeurIPS"
				}
			},
			wantIssue: "wrong venue or year",
		},
		{
			name: "wrong year",
			mangle: func(ps []types.Paper) {
				for i := 0; i < 10; i++ {
					ps[i].Year = 1999
				}
			},
			wantIssue: "wrong venue or year",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := NewQualityChecker(DefaultQualityThresholds())
			batch := makeBatch(50, "ICML", 2023)
			tc.mangle(batch)

			report := q.CheckCollectionQuality(batch, "ICML", 2023)
			if report.Passed {
				t.Fatal("mangled batch should fail")
			}
			found := false
			for _, issue := range report.Issues {
				if strings.Contains(issue, tc.wantIssue) {
					found = true
				}
			}
			if !found {
				t.Errorf("issues %v should mention %q", report.Issues, tc.wantIssue)
			}
		})
	}
}

func TestDefectsBelowThresholdPass(t *testing.T) {
	q := NewQualityChecker(DefaultQualityThresholds())
	batch := makeBatch(100, "ICML", 2023)
	// One duplicate in a hundred papers is under the 5% bound.
	batch[1].ID = batch[0].ID
	// Case differences in the venue are not a mismatch.
	batch[2].Venue = "icml"

	report := q.CheckCollectionQuality(batch, "ICML", 2023)
	if !report.Passed {
		t.Fatalf("defects below threshold should pass, issues: %v", report.Issues)
	}
}

func TestMissingVenueAndYearAreNotMismatches(t *testing.T) {
	q := NewQualityChecker(DefaultQualityThresholds())
	batch := makeBatch(10, "ICML", 2023)
	for i := range batch {
		batch[i].Venue = ""
		batch[i].Year = 0
	}
	report := q.CheckCollectionQuality(batch, "ICML", 2023)
	if !report.Passed {
		t.Fatalf("papers without venue/year metadata should not count as mismatched, issues: %v", report.Issues)
	}
}
