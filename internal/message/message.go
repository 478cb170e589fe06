// Package message holds the declarative pattern tables used to read commit
// messages: message conventions, issue references and closing keywords.
// Tables are evaluated in order and the first matching entry wins.
package message

import (
	"regexp"
	"sort"
	"strings"

	"github.com/phobologic/codecontext/internal/model"
)

// Convention is one recognized subject-line layout. Pattern must define a
// "desc" group and may define "type", "scope" and "breaking".
type Convention struct {
	Name    string
	Pattern *regexp.Regexp
	// Type is used when the pattern has no type group.
	Type string
}

// Conventions is the ordered table of subject-line layouts.
var Conventions = []Convention{
	{
		Name:    "conventional",
		Pattern: regexp.MustCompile(`^(?P<type>[A-Za-z]+)(?:\((?P<scope>[^)]*)\))?(?P<breaking>!)?:\s+(?P<desc>\S.*)$`),
	},
	{
		Name:    "closing-prefix",
		Pattern: regexp.MustCompile(`^(?i:(?P<type>fix(?:e[sd])?|close[sd]?|resolve[sd]?))\s+#?(?P<scope>[\w./-]+):\s*(?P<desc>\S.*)$`),
	},
	{
		Name:    "bracketed-ticket",
		Pattern: regexp.MustCompile(`^\[(?P<scope>[^\]]+)\]\s*(?P<desc>\S.*)$`),
	},
	{
		Name:    "ticket-prefix",
		Pattern: regexp.MustCompile(`^(?P<scope>[A-Z][A-Z0-9]+-\d+):?\s+(?P<desc>\S.*)$`),
	},
}

// typeAliases folds closing keywords onto a single type.
var typeAliases = map[string]string{
	"fix": "fix", "fixes": "fix", "fixed": "fix",
	"close": "close", "closes": "close", "closed": "close",
	"resolve": "resolve", "resolves": "resolve", "resolved": "resolve",
}

// Parse matches subject against Conventions. It returns nil when no
// convention matches.
func Parse(subject string) *model.Message {
	subject = strings.TrimSpace(subject)
	for _, c := range Conventions {
		m := c.Pattern.FindStringSubmatch(subject)
		if m == nil {
			continue
		}
		msg := &model.Message{Type: c.Type}
		for i, name := range c.Pattern.SubexpNames() {
			switch name {
			case "type":
				t := strings.ToLower(m[i])
				if alias, ok := typeAliases[t]; ok {
					t = alias
				}
				msg.Type = t
			case "scope":
				msg.Scope = strings.TrimSpace(m[i])
			case "breaking":
				msg.Breaking = m[i] == "!"
			case "desc":
				msg.Description = strings.TrimSpace(m[i])
			}
		}
		return msg
	}
	return nil
}

// IssuePattern extracts an issue or PR reference. Group 1 is the reference.
type IssuePattern struct {
	Name    string
	Pattern *regexp.Regexp
	// Exclude rejects references that look like one but are not (encodings, standards).
	Exclude *regexp.Regexp
}

// IssuePatterns is the ordered table of issue reference forms. Earlier
// entries claim their span of text first.
var IssuePatterns = []IssuePattern{
	{Name: "forge-prefixed", Pattern: regexp.MustCompile(`\b(?:GH|GL)-(\d+)\b`)},
	{Name: "hash-number", Pattern: regexp.MustCompile(`#(\d+)\b`)},
	{
		Name:    "ticket-key",
		Pattern: regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`),
		Exclude: regexp.MustCompile(`^(?:UTF|ISO|SHA|RFC|AES|MD|CP)-`),
	},
}

type span struct {
	start, end int
	ref        string
}

// IssueRefs returns the references found in text, in order of appearance,
// without duplicates.
func IssueRefs(text string) []string {
	var claimed []span
	for _, p := range IssuePatterns {
		for _, loc := range p.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			ref := text[loc[2]:loc[3]]
			if overlaps(claimed, start, end) || (p.Exclude != nil && p.Exclude.MatchString(ref)) {
				continue
			}
			claimed = append(claimed, span{start: start, end: end, ref: ref})
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })

	seen := make(map[string]struct{}, len(claimed))
	var refs []string
	for _, s := range claimed {
		if _, ok := seen[s.ref]; ok {
			continue
		}
		seen[s.ref] = struct{}{}
		refs = append(refs, s.ref)
	}
	return refs
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

const closingKeywords = `(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)`

// ClosingPattern matches "closes #ID", "Fixes: ID" and similar for one
// identifier, case-insensitively.
func ClosingPattern(id string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + closingKeywords + `\b[\s:]*#?` + regexp.QuoteMeta(id) + `(?:$|[^A-Za-z0-9_-])`)
}

var (
	closingLine = regexp.MustCompile(`(?i)^\s*` + closingKeywords + `\s*:?\s*(?:#?\d+|[A-Za-z][A-Za-z0-9]+-\d+)[.,]?\s*$`)
	trailerLine = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*:\s+\S`)
)

// knownTrailers are the trailer keys recognized in a body with no other
// content. Lowercase.
var knownTrailers = map[string]bool{
	"signed-off-by": true, "co-authored-by": true, "reviewed-by": true,
	"acked-by": true, "tested-by": true, "reported-by": true,
	"suggested-by": true, "helped-by": true, "cc": true, "change-id": true,
}

// StripTrailers removes git trailers and lines that only carry a closing
// keyword from a commit body. The final paragraph of "Key: value" lines is a
// trailer block when other content precedes it; on its own it is one only
// if every key is a known trailer, so a body like "Summary: adds login"
// survives.
func StripTrailers(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	kept := lines[:0:0]
	for _, l := range lines {
		if closingLine.MatchString(l) {
			continue
		}
		kept = append(kept, l)
	}

	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	start := len(kept)
	for start > 0 && strings.TrimSpace(kept[start-1]) != "" {
		start--
	}
	if start < len(kept) && allTrailers(kept[start:]) &&
		(hasContent(kept[:start]) || allKnownTrailers(kept[start:])) {
		kept = kept[:start]
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func allTrailers(lines []string) bool {
	for _, l := range lines {
		if !trailerLine.MatchString(l) {
			return false
		}
	}
	return true
}

func allKnownTrailers(lines []string) bool {
	for _, l := range lines {
		key, _, _ := strings.Cut(l, ":")
		if !knownTrailers[strings.ToLower(key)] {
			return false
		}
	}
	return true
}

func hasContent(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}
