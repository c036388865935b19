package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Seed is a bundle of definitions loaded into a store on startup.
type Seed struct {
	Adapters        []*AdapterDefinition `json:"adapters"`
	Functions       []*ReusableFunction  `json:"functions"`
	Flows           []*FlowDefinition    `json:"flows"`
	Transformations []*Transformation    `json:"transformations"`
	Mappings        []*FieldMapping      `json:"mappings"`
}

// SeedStats counts what Apply wrote.
type SeedStats struct {
	Adapters        int
	Functions       int
	Flows           int
	SkippedFlows    int
	Transformations int
	Mappings        int
}

// ParseSeed decodes a JSON or YAML bundle. YAML is routed through JSON so the
// json tags and raw adapter configs apply to both formats.
func ParseSeed(data []byte, format string) (*Seed, error) {
	if format == "yaml" {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, errors.WrapInvalid(err, "flowstore", "ParseSeed", "yaml decode")
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return nil, errors.WrapInvalid(err, "flowstore", "ParseSeed", "yaml to json")
		}
		data = converted
	}

	var seed Seed
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, errors.WrapInvalid(err, "flowstore", "ParseSeed", "json decode")
	}
	return &seed, nil
}

// LoadSeed reads a bundle file and applies it to the store
func LoadSeed(ctx context.Context, path string, store Store) (*SeedStats, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "flowstore", "LoadSeed", "read seed file")
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	seed, err := ParseSeed(data, format)
	if err != nil {
		return nil, err
	}
	return seed.Apply(ctx, store)
}

// Apply writes every definition. Flows that already exist are left alone so
// their execution counters survive restarts.
func (s *Seed) Apply(ctx context.Context, store Store) (*SeedStats, error) {
	stats := &SeedStats{}

	for _, a := range s.Adapters {
		if err := store.SaveAdapterConfig(ctx, a); err != nil {
			return stats, fmt.Errorf("seed adapter %s: %w", a.ID, err)
		}
		stats.Adapters++
	}
	for _, f := range s.Functions {
		if err := store.SaveFunction(ctx, f); err != nil {
			return stats, fmt.Errorf("seed function %s: %w", f.ID, err)
		}
		stats.Functions++
	}
	for _, flow := range s.Flows {
		flow.Version = 0
		if err := store.SaveFlow(ctx, flow); err != nil {
			if errors.Is(err, errors.ErrAlreadyExists) {
				stats.SkippedFlows++
				continue
			}
			return stats, fmt.Errorf("seed flow %s: %w", flow.ID, err)
		}
		stats.Flows++
	}
	for _, t := range s.Transformations {
		if err := store.SaveTransformation(ctx, t); err != nil {
			return stats, fmt.Errorf("seed transformation %s: %w", t.ID, err)
		}
		stats.Transformations++
	}
	for _, m := range s.Mappings {
		if err := store.SaveMapping(ctx, m); err != nil {
			return stats, fmt.Errorf("seed mapping %s: %w", m.ID, err)
		}
		stats.Mappings++
	}
	return stats, nil
}
