// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pdiddy/paper-census/pkg/types"
)

func TestVenuePlanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	plan := &VenuePlan{
		Name: "ml-conferences",
		Venues: []types.VenueConfig{
			{Name: "ICML", Years: []int{2022, 2023}, MaxPapersPerYear: 500, Priority: 1},
			{Name: "NeurIPS", Years: []int{2023}, MaxPapersPerYear: 500, Priority: 2},
		},
	}
	if err := WriteVenuePlan(path, plan); err != nil {
		t.Fatalf("WriteVenuePlan: %v", err)
	}

	back, err := ReadVenuePlan(path)
	if err != nil {
		t.Fatalf("ReadVenuePlan: %v", err)
	}
	if back.Name != "ml-conferences" {
		t.Errorf("name = %q", back.Name)
	}
	if len(back.Venues) != 2 {
		t.Fatalf("venues = %d, want 2", len(back.Venues))
	}
	if back.Venues[0].Name != "ICML" || len(back.Venues[0].Years) != 2 {
		t.Errorf("first venue = %+v", back.Venues[0])
	}
	if back.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped on write")
	}
}

func TestReadVenuePlanRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
	}{
		{"empty plan", "venues: []\n"},
		{"missing years", "venues:\n  - name: ICML\n"},
		{"bad yaml", "venues: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadVenuePlan(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestReadVenuePlanMissingFile(t *testing.T) {
	if _, err := ReadVenuePlan(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
