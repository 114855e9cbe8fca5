package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// Seed is the reference data file named by server.catalog.seed_file.
// Entries are upserted at startup and on every reload.
type Seed struct {
	Projects  []SeedProject  `yaml:"projects"`
	TestTypes []SeedTestType `yaml:"test_types"`
}

// SeedProject is one project entry.
type SeedProject struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SeedTestType is one test type entry. Omitted thresholds leave that side
// unbounded.
type SeedTestType struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Unit       string            `yaml:"unit"`
	Min        *float64          `yaml:"min"`
	Max        *float64          `yaml:"max"`
	WarnMargin *float64          `yaml:"warn_margin"`
	Metadata   map[string]string `yaml:"metadata"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %q: %w", path, err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("seed: parse yaml: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return &s, nil
}

func (s *Seed) validate() error {
	seen := make(map[string]bool)
	for i, p := range s.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("projects[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = true
	}
	clear(seen)
	for i, tt := range s.TestTypes {
		if tt.ID == "" {
			return fmt.Errorf("test_types[%d].id is required", i)
		}
		if seen[tt.ID] {
			return fmt.Errorf("test_types[%d].id %q is duplicated", i, tt.ID)
		}
		seen[tt.ID] = true
		if tt.Min != nil && tt.Max != nil && *tt.Min > *tt.Max {
			return fmt.Errorf("test_types[%d]: min %v exceeds max %v", i, *tt.Min, *tt.Max)
		}
		if tt.WarnMargin != nil && (*tt.WarnMargin < 0 || *tt.WarnMargin >= 0.5) {
			return fmt.Errorf("test_types[%d].warn_margin %v is out of range [0, 0.5)", i, *tt.WarnMargin)
		}
	}
	return nil
}

// Catalog converts the seed into domain records. Projects are stamped
// with now.
func (s *Seed) Catalog(now time.Time) ([]types.Project, []types.TestType) {
	projects := make([]types.Project, 0, len(s.Projects))
	for _, p := range s.Projects {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		projects = append(projects, types.Project{ID: p.ID, Name: name, CreatedAt: now.UTC()})
	}
	tts := make([]types.TestType, 0, len(s.TestTypes))
	for _, tt := range s.TestTypes {
		name := tt.Name
		if name == "" {
			name = tt.ID
		}
		tts = append(tts, types.TestType{
			ID:           tt.ID,
			Name:         name,
			Unit:         tt.Unit,
			MinThreshold: tt.Min,
			MaxThreshold: tt.Max,
			WarnMargin:   tt.WarnMargin,
			Metadata:     tt.Metadata,
		})
	}
	return projects, tts
}
