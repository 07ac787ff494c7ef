// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Paper holds the metadata collected for one academic paper.
type Paper struct {
	// ID is the source-assigned identifier (e.g. an OpenAlex work id).
	ID string `json:"id" yaml:"id"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Venue and Year identify the collection target the paper belongs to.
	Venue string `json:"venue" yaml:"venue"`
	Year  int    `json:"year" yaml:"year"`

	// SourceURL points at the paper's landing page or PDF.
	SourceURL string `json:"source_url,omitempty" yaml:"source_url,omitempty"`

	// Abstract is the paper abstract, when the source provides one.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Source identifies which API provided the record (e.g. "openalex").
	Source string `json:"source" yaml:"source"`

	// CollectedAt is when the record was fetched.
	CollectedAt time.Time `json:"collected_at" yaml:"collected_at"`
}

// Key returns the venue/year pair the paper belongs to.
func (p Paper) Key() VenueKey {
	return VenueKey{Venue: p.Venue, Year: p.Year}
}
