package game

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Businesses []BusinessDefinition `yaml:"businesses"`
}

// DefaultCatalog returns the built-in business list.
func DefaultCatalog() ([]BusinessDefinition, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog from path, or the built-in one when path is
// empty.
func LoadCatalog(path string) ([]BusinessDefinition, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) ([]BusinessDefinition, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(f.Businesses) == 0 {
		return nil, fmt.Errorf("%w: no businesses", ErrInvalidCatalog)
	}
	if err := ValidateCatalog(f.Businesses); err != nil {
		return nil, err
	}
	SortCatalog(f.Businesses)
	return f.Businesses, nil
}

// SortCatalog orders definitions by unlocking price, ties broken by id.
func SortCatalog(defs []BusinessDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if c := defs[i].UnlockingPrice.Cmp(defs[j].UnlockingPrice); c != 0 {
			return c < 0
		}
		return defs[i].ID < defs[j].ID
	})
}

// MergeProgress overlays a player's progress on the catalog. Progress rows
// for businesses missing from the catalog are dropped.
func MergeProgress(catalog []BusinessDefinition, progress []Progress) []BusinessView {
	byID := make(map[int64]Progress, len(progress))
	for _, p := range progress {
		byID[p.BusinessID] = p
	}
	out := make([]BusinessView, 0, len(catalog))
	for _, def := range catalog {
		v := BusinessView{
			BusinessDefinition: def,
			CurrentLevel:       def.DefaultLevel,
			IsManaged:          def.DefaultManaged,
		}
		if p, ok := byID[def.ID]; ok {
			v.CurrentLevel = p.CurrentLevel
			v.IsManaged = p.IsManaged
		}
		out = append(out, v)
	}
	return out
}
