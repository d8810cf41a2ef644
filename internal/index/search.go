package index

import (
	"sort"
	"strings"

	"github.com/pratikychavan/PyPI-clone/internal/pep440"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
)

// SearchResult is one ranked hit.
type SearchResult struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Search returns projects matching the query, best matches first: an exact
// canonical-name match ranks above name-substring matches, which rank above
// summary-substring matches. Ties order by name. Output is capped at the
// configured maximum.
func (ix *Index) Search(query string) []SearchResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	qName := pypi.CanonicalizeName(q)
	qLower := strings.ToLower(q)

	ix.mu.RLock()
	pkgs := make([]*Package, 0, len(ix.packages))
	for _, pkg := range ix.packages {
		pkgs = append(pkgs, pkg)
	}
	ix.mu.RUnlock()

	type hit struct {
		rank int
		res  SearchResult
	}
	var hits []hit

	for _, pkg := range pkgs {
		pkg.mu.RLock()
		name := pkg.Name
		summary := pkg.Summary
		latest := pkg.latestVersionLocked()
		pkg.mu.RUnlock()

		rank := -1
		switch {
		case name == qName:
			rank = 0
		case qName != "" && strings.Contains(name, qName):
			rank = 1
		case summary != "" && strings.Contains(strings.ToLower(summary), qLower):
			rank = 2
		}
		if rank < 0 {
			continue
		}
		hits = append(hits, hit{rank: rank, res: SearchResult{Name: name, Version: latest, Summary: summary}})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].res.Name < hits[j].res.Name
	})

	if len(hits) > ix.maxSearchResults {
		hits = hits[:ix.maxSearchResults]
	}

	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = h.res
	}
	return out
}

// latestVersionLocked returns the pep440-greatest release version, or the
// empty string for a project with no releases. Callers must hold pkg.mu.
func (pkg *Package) latestVersionLocked() string {
	var (
		best    pep440.Version
		version string
	)
	for _, rel := range pkg.Releases {
		if version == "" || pep440.Less(best, rel.parsed) {
			best = rel.parsed
			version = rel.Version
		}
	}
	return version
}
