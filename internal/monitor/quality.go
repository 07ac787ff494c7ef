// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"fmt"
	"strings"

	"github.com/pdiddy/paper-census/pkg/types"
)

// QualityThresholds bound the defect rates a collected batch may carry
// before the quality check fails it.
type QualityThresholds struct {
	// MaxDuplicateRate is the tolerated fraction of duplicate paper ids.
	MaxDuplicateRate float64 `json:"max_duplicate_rate" yaml:"max_duplicate_rate"`

	// MaxEmptyTitleRate is the tolerated fraction of papers without a title.
	MaxEmptyTitleRate float64 `json:"max_empty_title_rate" yaml:"max_empty_title_rate"`

	// MaxMissingAuthorsRate is the tolerated fraction of papers with no
	// author list.
	MaxMissingAuthorsRate float64 `json:"max_missing_authors_rate" yaml:"max_missing_authors_rate"`

	// MaxMismatchRate is the tolerated fraction of papers whose venue or
	// year disagrees with the requested pair.
	MaxMismatchRate float64 `json:"max_mismatch_rate" yaml:"max_mismatch_rate"`
}

// DefaultQualityThresholds returns the default defect-rate bounds.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MaxDuplicateRate:      0.05,
		MaxEmptyTitleRate:     0.02,
		MaxMissingAuthorsRate: 0.10,
		MaxMismatchRate:       0.05,
	}
}

// QualityChecker grades collected batches against configured thresholds.
type QualityChecker struct {
	thresholds QualityThresholds
}

// NewQualityChecker creates a checker with the given thresholds.
func NewQualityChecker(t QualityThresholds) *QualityChecker {
	return &QualityChecker{thresholds: t}
}

// CheckCollectionQuality inspects one venue/year batch. An empty batch
// passes; whether zero results are acceptable is the caller's decision.
func (q *QualityChecker) CheckCollectionQuality(papers []types.Paper, venue string, year int) types.QualityReport {
	report := types.QualityReport{Passed: true}
	if len(papers) == 0 {
		return report
	}

	var duplicates, emptyTitles, missingAuthors, mismatched int
	seen := make(map[string]struct{}, len(papers))
	for _, p := range papers {
		if p.ID != "" {
			if _, dup := seen[p.ID]; dup {
				duplicates++
			}
			seen[p.ID] = struct{}{}
		}
		if strings.TrimSpace(p.Title) == "" {
			emptyTitles++
		}
		if len(p.Authors) == 0 {
			missingAuthors++
		}
		if (p.Venue != "" && !strings.EqualFold(p.Venue, venue)) || (p.Year != 0 && p.Year != year) {
			mismatched++
		}
	}

	n := float64(len(papers))
	if rate := float64(duplicates) / n; rate > q.thresholds.MaxDuplicateRate {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d duplicate paper ids (%.0f%% of batch)", duplicates, rate*100))
	}
	if rate := float64(emptyTitles) / n; rate > q.thresholds.MaxEmptyTitleRate {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d papers without a title (%.0f%% of batch)", emptyTitles, rate*100))
	}
	if rate := float64(missingAuthors) / n; rate > q.thresholds.MaxMissingAuthorsRate {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d papers without authors (%.0f%% of batch)", missingAuthors, rate*100))
	}
	if rate := float64(mismatched) / n; rate > q.thresholds.MaxMismatchRate {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d papers from the wrong venue or year for %s:%d (%.0f%% of batch)",
				mismatched, venue, year, rate*100))
	}

	report.Passed = len(report.Issues) == 0
	return report
}
