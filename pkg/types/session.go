// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"
)

// SessionStatus is the lifecycle state of a collection session.
type SessionStatus string

const (
	SessionActive      SessionStatus = "active"
	SessionPaused      SessionStatus = "paused"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

// Valid reports whether s is one of the known session statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted, SessionFailed, SessionInterrupted:
		return true
	default:
		return false
	}
}

// VenueKey identifies one unit of collection work: a single venue in a
// single year. Its canonical string form is "venue:year" (the year is
// always the text after the last colon, so venue names may contain colons).
type VenueKey struct {
	Venue string `json:"venue" yaml:"venue"`
	Year  int    `json:"year" yaml:"year"`
}

// String returns the canonical "venue:year" form.
func (k VenueKey) String() string {
	return k.Venue + ":" + strconv.Itoa(k.Year)
}

// ParseVenueKey parses the canonical "venue:year" form.
func ParseVenueKey(s string) (VenueKey, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return VenueKey{}, fmt.Errorf("invalid venue key %q", s)
	}
	year, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return VenueKey{}, fmt.Errorf("invalid year in venue key %q: %w", s, err)
	}
	return VenueKey{Venue: s[:i], Year: year}, nil
}

// VenueSet is a set of venue/year pairs keyed by their canonical string
// form. It marshals to a sorted list so that any two equal sets produce
// identical bytes, which checkpoint checksums depend on.
type VenueSet map[string]struct{}

// NewVenueSet builds a set from the given keys.
func NewVenueSet(keys ...VenueKey) VenueSet {
	s := make(VenueSet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s VenueSet) Add(k VenueKey)      { s[k.String()] = struct{}{} }
func (s VenueSet) Remove(k VenueKey)   { delete(s, k.String()) }
func (s VenueSet) Has(k VenueKey) bool { _, ok := s[k.String()]; return ok }
func (s VenueSet) Len() int            { return len(s) }

// Strings returns the members in sorted canonical form.
func (s VenueSet) Strings() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Keys returns the members as parsed VenueKeys, sorted by venue then year.
// Entries that do not parse (possible only in hand-edited files) are skipped.
func (s VenueSet) Keys() []VenueKey {
	out := make([]VenueKey, 0, len(s))
	for raw := range s {
		k, err := ParseVenueKey(raw)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// Clone returns an independent copy of the set.
func (s VenueSet) Clone() VenueSet {
	out := make(VenueSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Union returns a new set containing the members of both sets.
func (s VenueSet) Union(other VenueSet) VenueSet {
	out := s.Clone()
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Intersect returns a new set containing the members present in both sets.
func (s VenueSet) Intersect(other VenueSet) VenueSet {
	out := make(VenueSet)
	for k := range s {
		if _, ok := other[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// SubsetOf reports whether every member of s is also in other.
func (s VenueSet) SubsetOf(other VenueSet) bool {
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Equal reports whether both sets have exactly the same members.
func (s VenueSet) Equal(other VenueSet) bool {
	return len(s) == len(other) && s.SubsetOf(other)
}

// MarshalJSON encodes the set as a sorted JSON array of canonical strings.
func (s VenueSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a JSON array of canonical strings.
func (s *VenueSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(VenueSet, len(raw))
	for _, r := range raw {
		out[r] = struct{}{}
	}
	*s = out
	return nil
}

// MarshalYAML encodes the set as a sorted sequence of canonical strings.
func (s VenueSet) MarshalYAML() (interface{}, error) {
	return s.Strings(), nil
}

// UnmarshalYAML decodes a sequence of canonical strings.
func (s *VenueSet) UnmarshalYAML(value *yaml.Node) error {
	var raw []string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := make(VenueSet, len(raw))
	for _, r := range raw {
		out[r] = struct{}{}
	}
	*s = out
	return nil
}

// PaperCounts tracks collected paper counts per venue/year pair, keyed by
// the pair's canonical string form.
type PaperCounts map[string]int

// Set records the count for one pair, replacing any previous value.
func (p PaperCounts) Set(k VenueKey, n int) { p[k.String()] = n }

// Get returns the recorded count for one pair (zero if absent).
func (p PaperCounts) Get(k VenueKey) int { return p[k.String()] }

// Total sums the counts across all pairs.
func (p PaperCounts) Total() int {
	total := 0
	for _, n := range p {
		total += n
	}
	return total
}

// Clone returns an independent copy of the counts.
func (p PaperCounts) Clone() PaperCounts {
	out := make(PaperCounts, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// VenueConfig is the immutable collection target for one venue: which
// years to collect and how many papers per year at most. Lower priority
// values are scheduled first.
type VenueConfig struct {
	// Name is the venue name as known to the bibliographic APIs (e.g. "ICML").
	Name string `json:"name" yaml:"name"`

	// Years lists the publication years to collect.
	Years []int `json:"years" yaml:"years"`

	// MaxPapersPerYear caps how many papers are collected per year (0 = no cap).
	MaxPapersPerYear int `json:"max_papers_per_year" yaml:"max_papers_per_year"`

	// Priority orders venues for collection; lower values run first.
	Priority int `json:"priority" yaml:"priority"`
}

// Validate checks that the config names a venue and at least one year.
func (v VenueConfig) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("venue config: name is empty")
	}
	if len(v.Years) == 0 {
		return fmt.Errorf("venue config %q: no target years", v.Name)
	}
	for _, y := range v.Years {
		if y <= 0 {
			return fmt.Errorf("venue config %q: invalid year %d", v.Name, y)
		}
	}
	if v.MaxPapersPerYear < 0 {
		return fmt.Errorf("venue config %q: negative paper cap", v.Name)
	}
	return nil
}

// CollectionSession is the root aggregate for one collection run. Its
// progress sets are mutated only through the checkpoint manager; workers
// report results and never write session fields directly.
type CollectionSession struct {
	// ID uniquely identifies the session.
	ID string `json:"session_id" yaml:"session_id"`

	// Status is the lifecycle state.
	Status SessionStatus `json:"status" yaml:"status"`

	// Venues is the immutable list of collection targets.
	Venues []VenueConfig `json:"venues" yaml:"venues"`

	// Completed, InProgress and Failed are the disjoint progress sets.
	// Pairs in none of the three are not started.
	Completed  VenueSet `json:"completed_venues" yaml:"completed_venues"`
	InProgress VenueSet `json:"in_progress_venues" yaml:"in_progress_venues"`
	Failed     VenueSet `json:"failed_venues" yaml:"failed_venues"`

	// FailureMessages records the last error message per failed pair.
	FailureMessages map[string]string `json:"failure_messages,omitempty" yaml:"failure_messages,omitempty"`

	// PaperCounts records collected papers per venue/year pair.
	PaperCounts PaperCounts `json:"paper_counts" yaml:"paper_counts"`

	// LastCheckpointID is the id of the most recent checkpoint.
	LastCheckpointID string `json:"last_checkpoint_id,omitempty" yaml:"last_checkpoint_id,omitempty"`

	// CheckpointCount is the number of checkpoints created so far.
	CheckpointCount int `json:"checkpoint_count" yaml:"checkpoint_count"`

	// ErrorCount is the number of error_occurred checkpoints recorded.
	ErrorCount int `json:"error_count" yaml:"error_count"`

	// CreatedAt and LastActivityAt are UTC bookkeeping timestamps.
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at" yaml:"last_activity_at"`
}

// NewSessionID generates a globally unique session id.
func NewSessionID() string {
	return fmt.Sprintf("census-%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// NewCollectionSession creates an active session over the given venue
// configs. An empty id is replaced with a generated one. Duplicate
// venue/year pairs across configs are rejected.
func NewCollectionSession(id string, venues []VenueConfig) (*CollectionSession, error) {
	if len(venues) == 0 {
		return nil, fmt.Errorf("new session: no venues configured")
	}
	seen := make(map[string]struct{})
	for _, v := range venues {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
		for _, y := range v.Years {
			k := VenueKey{Venue: v.Name, Year: y}.String()
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("new session: duplicate target %s", k)
			}
			seen[k] = struct{}{}
		}
	}
	if id == "" {
		id = NewSessionID()
	}
	now := time.Now().UTC()
	return &CollectionSession{
		ID:              id,
		Status:          SessionActive,
		Venues:          venues,
		Completed:       make(VenueSet),
		InProgress:      make(VenueSet),
		Failed:          make(VenueSet),
		FailureMessages: make(map[string]string),
		PaperCounts:     make(PaperCounts),
		CreatedAt:       now,
		LastActivityAt:  now,
	}, nil
}

// Targets returns the full ordered target list, sorted by venue priority,
// then venue name, then year.
func (s *CollectionSession) Targets() []VenueKey {
	venues := make([]VenueConfig, len(s.Venues))
	copy(venues, s.Venues)
	sort.SliceStable(venues, func(i, j int) bool {
		if venues[i].Priority != venues[j].Priority {
			return venues[i].Priority < venues[j].Priority
		}
		return venues[i].Name < venues[j].Name
	})
	var out []VenueKey
	for _, v := range venues {
		years := make([]int, len(v.Years))
		copy(years, v.Years)
		sort.Ints(years)
		for _, y := range years {
			out = append(out, VenueKey{Venue: v.Name, Year: y})
		}
	}
	return out
}

// TargetSet returns the targets as a set.
func (s *CollectionSession) TargetSet() VenueSet {
	return NewVenueSet(s.Targets()...)
}

// PaperCap returns the per-year paper cap configured for the pair's venue
// (0 = no cap, also returned for unknown venues).
func (s *CollectionSession) PaperCap(k VenueKey) int {
	for _, v := range s.Venues {
		if v.Name == k.Venue {
			return v.MaxPapersPerYear
		}
	}
	return 0
}

// NotStarted derives the pairs not yet in any progress set.
func (s *CollectionSession) NotStarted() VenueSet {
	out := make(VenueSet)
	progressed := s.Completed.Union(s.InProgress).Union(s.Failed)
	for k := range s.TargetSet() {
		if _, ok := progressed[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// TotalPapers sums the recorded paper counts.
func (s *CollectionSession) TotalPapers() int {
	return s.PaperCounts.Total()
}

// CheckPartition verifies the progress-set invariant: the three sets are
// pairwise disjoint and their union is a subset of the target set (the
// remainder being not-started).
func (s *CollectionSession) CheckPartition() error {
	if both := s.Completed.Intersect(s.InProgress); both.Len() > 0 {
		return fmt.Errorf("partition violated: %v both completed and in progress", both.Strings())
	}
	if both := s.Completed.Intersect(s.Failed); both.Len() > 0 {
		return fmt.Errorf("partition violated: %v both completed and failed", both.Strings())
	}
	if both := s.InProgress.Intersect(s.Failed); both.Len() > 0 {
		return fmt.Errorf("partition violated: %v both in progress and failed", both.Strings())
	}
	targets := s.TargetSet()
	union := s.Completed.Union(s.InProgress).Union(s.Failed)
	for k := range union {
		if _, ok := targets[k]; !ok {
			return fmt.Errorf("partition violated: %s tracked but not a target", k)
		}
	}
	return nil
}
