// Package model defines core data structures for codecontext.
package model

import "time"

// SymbolKind indicates the syntactic kind of a symbol.
type SymbolKind string

const (
	Class    SymbolKind = "class"
	Function SymbolKind = "function"
	Method   SymbolKind = "method"
	Block    SymbolKind = "block"
)

// Message is the structured form of a commit message that matched one of
// the recognized message conventions.
type Message struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Scope       string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Breaking    bool   `json:"breaking,omitempty" yaml:"breaking,omitempty"`
	Description string `json:"description" yaml:"description"`
}

// CommitRecord is one commit as read from history. Never mutated after creation.
type CommitRecord struct {
	Hash       string    `json:"hash" yaml:"hash"`
	AuthorTime time.Time `json:"authorTime" yaml:"authorTime"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body,omitempty" yaml:"body,omitempty"`
	Parsed     *Message  `json:"parsed,omitempty" yaml:"parsed,omitempty"`
	Files      []string  `json:"files,omitempty" yaml:"files,omitempty"`
}

// CommitSearch is the result of a history search. Skipped counts records
// that were present in the output but could not be parsed.
type CommitSearch struct {
	Commits []CommitRecord
	Skipped int
}

// ContainmentSet lists the branches and tags whose history includes a commit.
type ContainmentSet struct {
	Branches []string `json:"branches" yaml:"branches"`
	Tags     []string `json:"tags" yaml:"tags"`
}

// Hunk is one contiguous region of a file diff.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Lines holds the hunk body, each line keeping its ' ', '+', '-' or '\' prefix.
	Lines []string
}

// ChangedFile is one file entry of a diff. OldPath is empty for added files
// and NewPath is empty for deleted files.
type ChangedFile struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// Path returns the most relevant path for the change.
func (f ChangedFile) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// MatchReason explains why a commit was correlated with a feature.
type MatchReason string

const (
	MatchMention MatchReason = "mention"
	MatchClosing MatchReason = "closing-keyword"
)

// MatchedCommit is a CommitRecord together with the reason it matched.
type MatchedCommit struct {
	CommitRecord `yaml:",inline"`
	MatchedBy    MatchReason `json:"matchedBy" yaml:"matchedBy"`
}

// PathRank is a code path with the number of matching commits that touched it.
type PathRank struct {
	Path    string `json:"path" yaml:"path"`
	Touches int    `json:"touches" yaml:"touches"`
}

// Diagnostics tells a caller whether a result is complete.
type Diagnostics struct {
	SkippedCommits int      `json:"skippedCommits" yaml:"skippedCommits"`
	Warnings       []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Partial reports whether anything was skipped while building the result.
func (d Diagnostics) Partial() bool {
	return d.SkippedCommits > 0
}

// FeatureContext is everything the history says about one feature identifier.
// NotFound is set, with every collection empty, when no commit matched.
type FeatureContext struct {
	FeatureID     string          `json:"featureId" yaml:"featureId"`
	NotFound      bool            `json:"notFound" yaml:"notFound"`
	Commits       []MatchedCommit `json:"commits" yaml:"commits"`
	Branches      []string        `json:"branches" yaml:"branches"`
	Tags          []string        `json:"tags" yaml:"tags"`
	CodePaths     []string        `json:"codePaths" yaml:"codePaths"`
	TestPaths     []string        `json:"testPaths" yaml:"testPaths"`
	HotPaths      []PathRank      `json:"hotPaths" yaml:"hotPaths"`
	Description   string          `json:"description" yaml:"description"`
	RelatedIssues []string        `json:"relatedIssues" yaml:"relatedIssues"`
	Diagnostics   Diagnostics     `json:"diagnostics" yaml:"diagnostics"`
}

// Signature is the statically visible signature of a symbol.
type Signature struct {
	Params  string `json:"params,omitempty" yaml:"params,omitempty"`
	Returns string `json:"returns,omitempty" yaml:"returns,omitempty"`
}

// String renders the signature as "(params) -> returns".
func (s Signature) String() string {
	if s.Returns == "" {
		return s.Params
	}
	return s.Params + " -> " + s.Returns
}

// SymbolEntry is one parsed unit of a source file.
type SymbolEntry struct {
	Kind      SymbolKind `json:"kind" yaml:"kind"`
	Name      string     `json:"name" yaml:"name"`
	StartLine int        `json:"startLine" yaml:"startLine"`
	EndLine   int        `json:"endLine" yaml:"endLine"`
	Docstring string     `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	Signature Signature  `json:"signature" yaml:"signature"`
	Code      string     `json:"code" yaml:"code"`
}

// Extraction is the symbol table of one file. When ParseFailed is set the
// file had syntax errors, Symbols is empty and Warnings says why.
type Extraction struct {
	Path        string        `json:"path" yaml:"path"`
	Language    string        `json:"language" yaml:"language"`
	Symbols     []SymbolEntry `json:"symbols" yaml:"symbols"`
	ParseFailed bool          `json:"parseFailed" yaml:"parseFailed"`
	Warnings    []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Err         error         `json:"-" yaml:"-"`
}

// EndpointStatus classifies a route change.
type EndpointStatus string

const (
	Added    EndpointStatus = "added"
	Modified EndpointStatus = "modified"
	Removed  EndpointStatus = "removed"
)

// EndpointChange is one route whose declaration changed in a diff.
type EndpointChange struct {
	Method    string         `json:"method" yaml:"method"`
	Path      string         `json:"path" yaml:"path"`
	Symbol    string         `json:"symbol" yaml:"symbol"`
	File      string         `json:"file" yaml:"file"`
	Line      int            `json:"line" yaml:"line"`
	Status    EndpointStatus `json:"status" yaml:"status"`
	Signature Signature      `json:"signature" yaml:"signature"`
}

// EndpointReport is the analyzer output for one diff.
type EndpointReport struct {
	Endpoints []EndpointChange `json:"endpoints" yaml:"endpoints"`
	Warnings  []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}
