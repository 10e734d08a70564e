// Package testutil builds synthetic FAT volumes entirely in memory for use
// by the engine's own test suites, and exposes a small library of named
// reference geometries (a gocsv-backed table, in the spirit of a predefined
// disk-geometry catalog) for the common FAT12/16/32 test scenarios.
package testutil

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

//go:embed geometries.csv
var geometriesCSV string

// Geometry is one named reference shape for BuildVolume: enough to derive a
// complete, internally consistent FAT12/16/32 layout without the caller
// having to work out sector/cluster counts by hand.
type Geometry struct {
	Slug              string `csv:"slug"`
	Description       string `csv:"description"`
	BytesPerSector    uint   `csv:"bytes_per_sector"`
	SectorsPerCluster uint   `csv:"sectors_per_cluster"`
	NumFATs           uint   `csv:"num_fats"`
	RootEntryCount    uint   `csv:"root_entry_count"`
	TotalDataClusters uint   `csv:"total_data_clusters"`
}

var geometries map[string]Geometry

func init() {
	geometries = make(map[string]Geometry)
	err := gocsv.UnmarshalToCallback(strings.NewReader(geometriesCSV), func(row Geometry) error {
		if _, exists := geometries[row.Slug]; exists {
			return fmt.Errorf("duplicate geometry slug %q", row.Slug)
		}
		geometries[row.Slug] = row
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("testutil: malformed geometries.csv: %s", err))
	}
}

// NamedGeometry looks up one of the reference shapes in geometries.csv by
// slug (e.g. "fat12_standard", "fat32_small").
func NamedGeometry(slug string) (Geometry, bool) {
	g, ok := geometries[slug]
	return g, ok
}

// Geometries returns every named reference geometry, for table-driven tests
// that want to exercise all three variants in one loop.
func Geometries() []Geometry {
	out := make([]Geometry, 0, len(geometries))
	for _, g := range geometries {
		out = append(out, g)
	}
	return out
}
