// Package ranking orders and trims correlation and extraction results.
package ranking

import (
	"sort"
	"strings"

	"github.com/phobologic/codecontext/internal/model"
)

// HotPaths ranks paths by the number of commits that touched them, most
// touched first and ties by path.
func HotPaths(commits []model.MatchedCommit) []model.PathRank {
	counts := make(map[string]int)
	for i := range commits {
		for _, f := range commits[i].Files {
			counts[f]++
		}
	}

	ranks := make([]model.PathRank, 0, len(counts))
	for path, n := range counts {
		ranks = append(ranks, model.PathRank{Path: path, Touches: n})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Touches != ranks[j].Touches {
			return ranks[i].Touches > ranks[j].Touches
		}
		return ranks[i].Path < ranks[j].Path
	})
	return ranks
}

// SelectPaths returns the top maxPaths ranks.
// If maxPaths is <= 0 or >= len(ranks), all ranks are returned.
func SelectPaths(ranks []model.PathRank, maxPaths int) []model.PathRank {
	if maxPaths <= 0 || maxPaths >= len(ranks) {
		return ranks
	}
	return ranks[:maxPaths]
}

// SelectCommits returns a copy of fc keeping only the newest maxCommits
// commits. Aggregated fields are left untouched, so the result still
// describes every matching commit.
func SelectCommits(fc model.FeatureContext, maxCommits int) model.FeatureContext {
	if maxCommits <= 0 || maxCommits >= len(fc.Commits) {
		return fc
	}
	fc.Commits = fc.Commits[:maxCommits]
	return fc
}

// FilterBySymbol returns a copy of ex containing only symbols whose name
// contains substr (case-insensitive). When a class matches, its members
// (symbols qualified with the class name) are kept as well.
func FilterBySymbol(ex model.Extraction, substr string) model.Extraction {
	if substr == "" {
		return ex
	}
	lower := strings.ToLower(substr)

	owners := make(map[string]struct{})
	for _, s := range ex.Symbols {
		if s.Kind == model.Class && strings.Contains(strings.ToLower(s.Name), lower) {
			owners[s.Name] = struct{}{}
		}
	}

	kept := []model.SymbolEntry{}
	for _, s := range ex.Symbols {
		if strings.Contains(strings.ToLower(s.Name), lower) || ownedBy(s.Name, owners) {
			kept = append(kept, s)
		}
	}
	ex.Symbols = kept
	return ex
}

func ownedBy(name string, owners map[string]struct{}) bool {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return false
	}
	_, ok := owners[name[:dot]]
	return ok
}
