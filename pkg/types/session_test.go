// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"strings"
	"testing"
)

// --- venue keys ---

func TestVenueKeyString(t *testing.T) {
	k := VenueKey{Venue: "ICML", Year: 2023}
	if got := k.String(); got != "ICML:2023" {
		t.Errorf("String() = %q, want %q", got, "ICML:2023")
	}
}

func TestParseVenueKey(t *testing.T) {
	tests := []struct {
		in      string
		want    VenueKey
		wantErr bool
	}{
		{"ICML:2023", VenueKey{"ICML", 2023}, false},
		{"NeurIPS:2022", VenueKey{"NeurIPS", 2022}, false},
		{"CVPR Workshops: Vision:2021", VenueKey{"CVPR Workshops: Vision", 2021}, false},
		{"ICML", VenueKey{}, true},
		{"ICML:", VenueKey{}, true},
		{":2023", VenueKey{}, true},
		{"ICML:twenty23", VenueKey{}, true},
	}
	for _, tt := range tests {
		got, err := ParseVenueKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseVenueKey(%q): expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVenueKey(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVenueKey(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

// --- venue sets ---

func TestVenueSetJSONDeterministic(t *testing.T) {
	a := NewVenueSet(VenueKey{"NeurIPS", 2022}, VenueKey{"ICML", 2023}, VenueKey{"ACL", 2021})
	b := NewVenueSet(VenueKey{"ACL", 2021}, VenueKey{"NeurIPS", 2022}, VenueKey{"ICML", 2023})

	ja, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	jb, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(ja) != string(jb) {
		t.Errorf("equal sets marshaled differently: %s vs %s", ja, jb)
	}
	if want := `["ACL:2021","ICML:2023","NeurIPS:2022"]`; string(ja) != want {
		t.Errorf("marshal = %s, want %s", ja, want)
	}

	var back VenueSet
	if err := json.Unmarshal(ja, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(a) {
		t.Errorf("round trip lost members: %v vs %v", back.Strings(), a.Strings())
	}
}

func TestVenueSetOps(t *testing.T) {
	icml := VenueKey{"ICML", 2023}
	acl := VenueKey{"ACL", 2021}
	s := NewVenueSet(icml)

	if !s.Has(icml) {
		t.Error("Has(icml) = false after add")
	}
	if s.Has(acl) {
		t.Error("Has(acl) = true, never added")
	}

	u := s.Union(NewVenueSet(acl))
	if u.Len() != 2 {
		t.Errorf("union len = %d, want 2", u.Len())
	}
	if s.Len() != 1 {
		t.Errorf("union mutated receiver, len = %d", s.Len())
	}

	i := u.Intersect(s)
	if i.Len() != 1 || !i.Has(icml) {
		t.Errorf("intersect = %v, want [ICML:2023]", i.Strings())
	}
	if !s.SubsetOf(u) {
		t.Error("s should be subset of union")
	}
	if u.SubsetOf(s) {
		t.Error("union should not be subset of s")
	}

	s.Remove(icml)
	if s.Len() != 0 {
		t.Errorf("len after remove = %d, want 0", s.Len())
	}
}

// --- sessions ---

func testVenues() []VenueConfig {
	return []VenueConfig{
		{Name: "ICML", Years: []int{2022, 2023}, MaxPapersPerYear: 100, Priority: 1},
		{Name: "NeurIPS", Years: []int{2023}, MaxPapersPerYear: 100, Priority: 2},
	}
}

func TestNewCollectionSession(t *testing.T) {
	s, err := NewCollectionSession("", testVenues())
	if err != nil {
		t.Fatalf("NewCollectionSession: %v", err)
	}
	if s.ID == "" {
		t.Error("empty id was not generated")
	}
	if !strings.HasPrefix(s.ID, "census-") {
		t.Errorf("generated id %q lacks census- prefix", s.ID)
	}
	if s.Status != SessionActive {
		t.Errorf("status = %q, want active", s.Status)
	}
	if got := len(s.Targets()); got != 3 {
		t.Errorf("target count = %d, want 3", got)
	}
	if s.NotStarted().Len() != 3 {
		t.Errorf("not-started = %d, want all 3", s.NotStarted().Len())
	}
	if err := s.CheckPartition(); err != nil {
		t.Errorf("fresh session violates partition: %v", err)
	}
}

func TestNewCollectionSessionRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		venues []VenueConfig
	}{
		{"no venues", nil},
		{"empty name", []VenueConfig{{Name: " ", Years: []int{2023}}}},
		{"no years", []VenueConfig{{Name: "ICML"}}},
		{"bad year", []VenueConfig{{Name: "ICML", Years: []int{-1}}}},
		{"duplicate pair", []VenueConfig{
			{Name: "ICML", Years: []int{2023}},
			{Name: "ICML", Years: []int{2023}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCollectionSession("", tt.venues); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestTargetsOrderedByPriority(t *testing.T) {
	venues := []VenueConfig{
		{Name: "NeurIPS", Years: []int{2023}, Priority: 2},
		{Name: "ICML", Years: []int{2023, 2022}, Priority: 1},
	}
	s, err := NewCollectionSession("s1", venues)
	if err != nil {
		t.Fatalf("NewCollectionSession: %v", err)
	}
	got := s.Targets()
	want := []VenueKey{{"ICML", 2022}, {"ICML", 2023}, {"NeurIPS", 2023}}
	if len(got) != len(want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("targets[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCheckPartition(t *testing.T) {
	s, err := NewCollectionSession("s1", testVenues())
	if err != nil {
		t.Fatalf("NewCollectionSession: %v", err)
	}
	icml23 := VenueKey{"ICML", 2023}

	s.Completed.Add(icml23)
	if err := s.CheckPartition(); err != nil {
		t.Errorf("single membership should pass: %v", err)
	}

	s.InProgress.Add(icml23)
	if err := s.CheckPartition(); err == nil {
		t.Error("pair in completed and in-progress should violate partition")
	}
	s.InProgress.Remove(icml23)

	s.Failed.Add(VenueKey{"ICLR", 2023})
	if err := s.CheckPartition(); err == nil {
		t.Error("non-target pair should violate partition")
	}
}

func TestPaperCounts(t *testing.T) {
	p := make(PaperCounts)
	p.Set(VenueKey{"ICML", 2023}, 42)
	p.Set(VenueKey{"NeurIPS", 2023}, 8)

	if got := p.Get(VenueKey{"ICML", 2023}); got != 42 {
		t.Errorf("Get = %d, want 42", got)
	}
	if got := p.Total(); got != 50 {
		t.Errorf("Total = %d, want 50", got)
	}

	c := p.Clone()
	c.Set(VenueKey{"ICML", 2023}, 1)
	if p.Get(VenueKey{"ICML", 2023}) != 42 {
		t.Error("clone aliases original")
	}
}
