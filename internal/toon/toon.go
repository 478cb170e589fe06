// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/phobologic/codecontext/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeFeature converts a FeatureContext into TOON format.
func EncodeFeature(fc model.FeatureContext) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("feature: %s", encodeValue(fc.FeatureID)))
	parts = append(parts, fmt.Sprintf("notFound: %t", fc.NotFound))
	parts = append(parts, fmt.Sprintf("description: %s", encodeValue(fc.Description)))
	parts = append(parts, formatList("branches", fc.Branches))
	parts = append(parts, formatList("tags", fc.Tags))
	parts = append(parts, formatList("relatedIssues", fc.RelatedIssues))

	var commitRows [][]string
	for i := range fc.Commits {
		c := &fc.Commits[i]
		commitRows = append(commitRows, []string{
			c.Hash,
			c.AuthorTime.UTC().Format(time.RFC3339),
			string(c.MatchedBy),
			c.Subject,
		})
	}
	parts = append(parts, formatTabular("commits", []string{"hash", "date", "matchedBy", "subject"}, commitRows))

	var pathRows [][]string
	for _, p := range fc.HotPaths {
		pathRows = append(pathRows, []string{p.Path, strconv.Itoa(p.Touches)})
	}
	parts = append(parts, formatTabular("paths", []string{"path", "touches"}, pathRows))
	parts = append(parts, formatList("tests", fc.TestPaths))

	if fc.Diagnostics.Partial() || len(fc.Diagnostics.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("skippedCommits: %d", fc.Diagnostics.SkippedCommits))
		parts = append(parts, formatList("warnings", fc.Diagnostics.Warnings))
	}

	return strings.Join(parts, "\n")
}

// EncodeExtractions converts symbol tables of one or more files into TOON
// format. Code bodies are omitted unless withCode is set.
func EncodeExtractions(exs []model.Extraction, withCode bool) string {
	var parts []string

	var fileRows [][]string
	var warnings []string
	for i := range exs {
		ex := &exs[i]
		fileRows = append(fileRows, []string{
			encodeValue(ex.Path),
			encodeValue(ex.Language),
			strconv.Itoa(len(ex.Symbols)),
			strconv.FormatBool(ex.ParseFailed),
		})
		warnings = append(warnings, ex.Warnings...)
	}
	parts = append(parts, formatRows("files", []string{"path", "language", "symbols", "parseFailed"}, fileRows))

	columns := []string{"file", "name", "kind", "lines", "signature", "doc"}
	if withCode {
		columns = append(columns, "code")
	}
	var symbolRows [][]string
	for i := range exs {
		ex := &exs[i]
		for j := range ex.Symbols {
			s := &ex.Symbols[j]
			row := []string{
				ex.Path,
				s.Name,
				string(s.Kind),
				fmt.Sprintf("%d-%d", s.StartLine, s.EndLine),
				s.Signature.String(),
				firstLine(s.Docstring),
			}
			if withCode {
				row = append(row, s.Code)
			}
			symbolRows = append(symbolRows, row)
		}
	}
	parts = append(parts, formatTabular("symbols", columns, symbolRows))

	if len(warnings) > 0 {
		parts = append(parts, formatList("warnings", warnings))
	}

	return strings.Join(parts, "\n")
}

// EncodeEndpoints converts an EndpointReport into TOON format.
func EncodeEndpoints(r model.EndpointReport) string {
	var parts []string

	var rows [][]string
	for i := range r.Endpoints {
		e := &r.Endpoints[i]
		rows = append(rows, []string{
			string(e.Status),
			e.Method,
			e.Path,
			e.Symbol,
			e.File,
			strconv.Itoa(e.Line),
			e.Signature.String(),
		})
	}
	parts = append(parts, formatTabular("endpoints", []string{"status", "method", "path", "symbol", "file", "line", "signature"}, rows))

	if len(r.Warnings) > 0 {
		parts = append(parts, formatList("warnings", r.Warnings))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	encoded := make([][]string, len(rows))
	for i, row := range rows {
		encoded[i] = make([]string, len(row))
		for j, cell := range row {
			encoded[i][j] = encodeValue(cell)
		}
	}
	return formatRows(name, columns, encoded)
}

// formatRows renders a tabular array whose cells are already encoded, so
// numbers and booleans stay unquoted.
func formatRows(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		fmt.Fprintf(&b, "\n  %s", strings.Join(row, ","))
	}
	return b.String()
}

// formatList renders a primitive array inline: name[N]: a,b,c
func formatList(name string, values []string) string {
	encoded := make([]string, len(values))
	for i, v := range values {
		encoded[i] = encodeValue(v)
	}
	if len(encoded) == 0 {
		return fmt.Sprintf("%s[0]:", name)
	}
	return fmt.Sprintf("%s[%d]: %s", name, len(encoded), strings.Join(encoded, ","))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
