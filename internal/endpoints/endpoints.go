// Package endpoints classifies route declarations changed by a diff.
//
// Both versions of every changed file are parsed into symbols, route
// declarations are recognized line by line with RoutePatterns, and each
// route is attributed to the innermost symbol containing it. Routes are
// identified by (file, symbol, ordinal within symbol) once unchanged routes
// are set aside; pairs whose normalized method, path and signature differ
// are modified, unpaired ones are added or removed. Renames are not detected: a route moving between
// symbols is reported as removed and added.
package endpoints

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	logger "github.com/sirupsen/logrus"

	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/lang"
	"github.com/phobologic/codecontext/internal/model"
)

// ModuleSymbol names routes declared outside any symbol.
const ModuleSymbol = "<module>"

// Extractor parses source text into symbols.
type Extractor interface {
	Supports(language string) bool
	ExtractSource(ctx context.Context, source []byte, language, path string) (model.Extraction, error)
}

// Analyzer classifies route changes.
type Analyzer struct {
	extractor Extractor
	log       logger.FieldLogger
}

// New returns an Analyzer parsing with e.
func New(e Extractor, log logger.FieldLogger) *Analyzer {
	if log == nil {
		log = logger.StandardLogger()
	}
	return &Analyzer{extractor: e, log: log}
}

// Analyze returns the route changes in files, in diff order. Files that
// cannot be analyzed are skipped with a warning in the report.
func (a *Analyzer) Analyze(ctx context.Context, files []model.ChangedFile, sides SideLoader) (model.EndpointReport, error) {
	report := model.EndpointReport{Endpoints: []model.EndpointChange{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return model.EndpointReport{}, err
		}
		path := f.Path()
		log := a.log.WithField("file", path)

		language := lang.ForPath(path)
		if language == "" {
			log.Debug("no language for file, skipping")
			continue
		}
		if !a.extractor.Supports(language) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("skipped %s: language %q is not configured", path, language))
			continue
		}

		pre, post, err := sides.Sides(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return model.EndpointReport{}, ctx.Err()
			}
			log.WithError(err).Warn("could not load file versions")
			report.Warnings = append(report.Warnings, fmt.Sprintf("skipped %s: file versions unavailable (%s)", path, errors.CodeOf(err)))
			continue
		}

		before, ok, err := a.version(ctx, pre, language, path, "pre-change", &report)
		if err != nil {
			return model.EndpointReport{}, err
		}
		if !ok {
			continue
		}
		after, ok, err := a.version(ctx, post, language, path, "post-change", &report)
		if err != nil {
			return model.EndpointReport{}, err
		}
		if !ok {
			continue
		}

		changes := classify(path, before, after)
		log.WithField("changes", len(changes)).Debug("file analyzed")
		report.Endpoints = append(report.Endpoints, changes...)
	}
	return report, nil
}

// version parses one side of a file and attributes its routes. Absent sides
// have no routes. ok is false when the side does not parse.
func (a *Analyzer) version(ctx context.Context, source []byte, language, path, side string, report *model.EndpointReport) ([]located, bool, error) {
	if source == nil {
		return nil, true, nil
	}
	ex, err := a.extractor.ExtractSource(ctx, source, language, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, err
	}
	if ex.ParseFailed {
		report.Warnings = append(report.Warnings, fmt.Sprintf("skipped %s: %s version does not parse", path, side))
		return nil, false, nil
	}
	return locate(scanRoutes(language, source), ex.Symbols), true, nil
}

// located is a route attributed to its enclosing symbol.
type located struct {
	route
	symbol    string
	signature model.Signature
}

func (l located) key() string {
	return stripSpace(l.method + " " + l.path + " " + l.signature.String())
}

func locate(routes []route, symbols []model.SymbolEntry) []located {
	out := make([]located, 0, len(routes))
	for _, r := range routes {
		loc := located{route: r, symbol: ModuleSymbol}
		if s := innermost(symbols, r.line); s != nil {
			loc.symbol = s.Name
			loc.signature = s.Signature
		}
		out = append(out, loc)
	}
	return out
}

// innermost returns the narrowest symbol whose line range contains line.
func innermost(symbols []model.SymbolEntry, line int) *model.SymbolEntry {
	var best *model.SymbolEntry
	for i := range symbols {
		s := &symbols[i]
		if line < s.StartLine || line > s.EndLine {
			continue
		}
		if best == nil || s.EndLine-s.StartLine < best.EndLine-best.StartLine ||
			(s.EndLine-s.StartLine == best.EndLine-best.StartLine && s.StartLine > best.StartLine) {
			best = s
		}
	}
	return best
}

// classify pairs routes within each symbol and reports removed, then
// modified, then added, each in line order. Identical routes pair first;
// the remaining ones pair by ordinal.
func classify(file string, before, after []located) []model.EndpointChange {
	preBy := bySymbol(before)
	postBy := bySymbol(after)

	var removed, modified, added []model.EndpointChange
	for symbol, old := range preBy {
		cur := postBy[symbol]
		old, cur = dropIdentical(old, cur)
		n := min(len(old), len(cur))
		for i := 0; i < n; i++ {
			modified = append(modified, change(file, cur[i], model.Modified))
		}
		for _, r := range old[n:] {
			removed = append(removed, change(file, r, model.Removed))
		}
		for _, r := range cur[n:] {
			added = append(added, change(file, r, model.Added))
		}
	}
	for symbol, cur := range postBy {
		if _, ok := preBy[symbol]; ok {
			continue
		}
		for _, r := range cur {
			added = append(added, change(file, r, model.Added))
		}
	}

	for _, group := range [][]model.EndpointChange{removed, modified, added} {
		sort.Slice(group, func(i, j int) bool {
			if group[i].Line != group[j].Line {
				return group[i].Line < group[j].Line
			}
			return group[i].Method < group[j].Method
		})
	}
	out := make([]model.EndpointChange, 0, len(removed)+len(modified)+len(added))
	out = append(out, removed...)
	out = append(out, modified...)
	return append(out, added...)
}

func bySymbol(routes []located) map[string][]located {
	out := make(map[string][]located)
	for _, r := range routes {
		out[r.symbol] = append(out[r.symbol], r)
	}
	return out
}

// dropIdentical removes routes present unchanged on both sides.
func dropIdentical(old, cur []located) ([]located, []located) {
	used := make([]bool, len(cur))
	var keptOld []located
	for _, o := range old {
		match := -1
		for j, c := range cur {
			if !used[j] && c.key() == o.key() {
				match = j
				break
			}
		}
		if match < 0 {
			keptOld = append(keptOld, o)
			continue
		}
		used[match] = true
	}
	var keptCur []located
	for j, c := range cur {
		if !used[j] {
			keptCur = append(keptCur, c)
		}
	}
	return keptOld, keptCur
}

func change(file string, r located, status model.EndpointStatus) model.EndpointChange {
	return model.EndpointChange{
		Method:    r.method,
		Path:      r.path,
		Symbol:    r.symbol,
		File:      file,
		Line:      r.line,
		Status:    status,
		Signature: r.signature,
	}
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
