// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-census/pkg/types"
)

// VenuePlan is the on-disk representation of a collection target list.
// An operator writes one by hand or exports it from a previous session,
// then feeds it to session creation.
type VenuePlan struct {
	// Name labels the plan (e.g. "ml-conferences-2023").
	Name string `yaml:"name,omitempty"`

	// Venues lists the collection targets.
	Venues []types.VenueConfig `yaml:"venues"`

	// CreatedAt records when the plan file was written.
	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

// ReadVenuePlan loads a plan file and validates every venue config.
func ReadVenuePlan(path string) (*VenuePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading venue plan: %w", err)
	}
	var plan VenuePlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing venue plan: %w", err)
	}
	if len(plan.Venues) == 0 {
		return nil, fmt.Errorf("venue plan %s: no venues", path)
	}
	for _, v := range plan.Venues {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("venue plan %s: %w", path, err)
		}
	}
	return &plan, nil
}

// WriteVenuePlan saves a plan to a YAML file.
func WriteVenuePlan(path string, plan *VenuePlan) error {
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshaling venue plan: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
