package curation

import (
	"maps"
	"slices"
	"strings"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
)

type stringSet map[string]struct{}

func (s stringSet) add(v string) { s[v] = struct{}{} }

func (s stringSet) sorted() []string { return slices.Sorted(maps.Keys(s)) }

// Grouping relates barcode clusters and species over a set of records.
// It applies no filtering; callers pass the records they want analysed.
type Grouping struct {
	// ClusterSpecies maps a cluster to the species found in it.
	ClusterSpecies map[string]stringSet
	// SpeciesClusters maps a species to the clusters it was found in.
	SpeciesClusters map[string]stringSet
}

// Analyze builds the grouping of records. Records missing a cluster or a
// species are skipped.
func Analyze(records []datastore.Record) *Grouping {
	g := &Grouping{
		ClusterSpecies:  make(map[string]stringSet),
		SpeciesClusters: make(map[string]stringSet),
	}
	for i := range records {
		cluster, species := records[i].BinURI, records[i].Species
		if cluster == "" || species == "" {
			continue
		}
		if g.ClusterSpecies[cluster] == nil {
			g.ClusterSpecies[cluster] = make(stringSet)
		}
		g.ClusterSpecies[cluster].add(species)

		if g.SpeciesClusters[species] == nil {
			g.SpeciesClusters[species] = make(stringSet)
		}
		g.SpeciesClusters[species].add(cluster)
	}
	return g
}

// IsSharing reports whether cluster holds more than one species.
func (g *Grouping) IsSharing(cluster string) bool {
	return len(g.ClusterSpecies[cluster]) > 1
}

// IsSplitting reports whether species spans more than one cluster.
func (g *Grouping) IsSplitting(species string) bool {
	return len(g.SpeciesClusters[species]) > 1
}

// SpeciesIsSharing reports whether any cluster of species is shared with another species.
func (g *Grouping) SpeciesIsSharing(species string) bool {
	for cluster := range g.SpeciesClusters[species] {
		if g.IsSharing(cluster) {
			return true
		}
	}
	return false
}

// SharingClusters counts clusters holding more than one species.
func (g *Grouping) SharingClusters() int {
	n := 0
	for cluster := range g.ClusterSpecies {
		if g.IsSharing(cluster) {
			n++
		}
	}
	return n
}

// SplittingSpecies counts species spanning more than one cluster.
func (g *Grouping) SplittingSpecies() int {
	n := 0
	for species := range g.SpeciesClusters {
		if g.IsSplitting(species) {
			n++
		}
	}
	return n
}

// ClustersOf returns the clusters of species, sorted.
func (g *Grouping) ClustersOf(species string) []string {
	return g.SpeciesClusters[species].sorted()
}

// GradeFor grades species given its number of valid records.
func (g *Grouping) GradeFor(species string, validCount int) Grade {
	clusters := g.ClustersOf(species)
	in := GradeInput{
		ClusterCount:     len(clusters),
		ValidRecordCount: validCount,
		Clusters:         make([]ClusterExclusivity, 0, len(clusters)),
	}
	for _, c := range clusters {
		sharing := g.IsSharing(c)
		if sharing {
			in.IsSharing = true
		}
		in.Clusters = append(in.Clusters, ClusterExclusivity{Cluster: c, Exclusive: !sharing})
	}
	return CalculateGrade(in)
}

// Annotate describes where a record sits in the grouping, for example
// "cluster-sharing with: Aus bus; single cluster: BOLD:AAA0001".
func (g *Grouping) Annotate(r *datastore.Record) string {
	if r.BinURI == "" || r.Species == "" {
		return ""
	}

	var parts []string
	if g.IsSharing(r.BinURI) {
		others := make([]string, 0, len(g.ClusterSpecies[r.BinURI]))
		for _, s := range g.ClusterSpecies[r.BinURI].sorted() {
			if s != r.Species {
				others = append(others, s)
			}
		}
		if len(others) > 0 {
			parts = append(parts, "cluster-sharing with: "+strings.Join(others, ", "))
		}
	}

	switch clusters := g.ClustersOf(r.Species); {
	case len(clusters) > 1:
		parts = append(parts, "cluster-splitting across: "+strings.Join(clusters, ", "))
	case len(clusters) == 1:
		parts = append(parts, "single cluster: "+clusters[0])
	}

	return strings.Join(parts, "; ")
}
