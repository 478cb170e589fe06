// Package correlate joins commit history with a feature identifier: which
// commits mention it, which refs contain them, which files and tests they
// touched, and what the history says the feature is.
package correlate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/history"
	"github.com/phobologic/codecontext/internal/message"
	"github.com/phobologic/codecontext/internal/model"
	"github.com/phobologic/codecontext/internal/ranking"
)

// MaxIdentifierLength bounds feature identifiers.
const MaxIdentifierLength = 200

// containmentWorkers bounds concurrent containment lookups per call.
const containmentWorkers = 4

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_./#-]+$`)

// History is the part of the history accessor the correlator reads from.
type History interface {
	FindCommitsMatching(ctx context.Context, pattern string) (model.CommitSearch, error)
	ContainmentOf(ctx context.Context, hash string) (model.ContainmentSet, error)
	ListFiles(ctx context.Context, glob string) ([]string, error)
}

// Correlator builds FeatureContext values from a History.
type Correlator struct {
	history History
	log     logger.FieldLogger
}

// New returns a Correlator reading from h.
func New(h History, log logger.FieldLogger) *Correlator {
	if log == nil {
		log = logger.StandardLogger()
	}
	return &Correlator{history: h, log: log}
}

// ValidateIdentifier rejects identifiers that cannot name a feature.
// Shell metacharacters and control characters are INVALID_PATTERN, since
// the identifier becomes the history search pattern; every other defect is
// INPUT_VALIDATION.
func ValidateIdentifier(id string) error {
	switch {
	case id == "":
		return errors.New(errors.InputValidation, "feature identifier is empty")
	case len(id) > MaxIdentifierLength:
		return errors.Newf(errors.InputValidation, "feature identifier exceeds %d characters", MaxIdentifierLength)
	case strings.HasPrefix(id, "-"):
		return errors.New(errors.InputValidation, "feature identifier must not start with '-'")
	}
	if err := history.ValidatePattern(id); err != nil {
		return err
	}
	switch {
	case !identifierPattern.MatchString(id):
		return errors.New(errors.InputValidation, "feature identifier may only contain letters, digits and _./#-")
	case strings.Contains(id, ".."):
		return errors.New(errors.InputValidation, "feature identifier must not contain '..'")
	}
	return nil
}

// Correlate returns everything history records about id. A search that
// matches nothing is a successful result with NotFound set.
func (c *Correlator) Correlate(ctx context.Context, id string) (model.FeatureContext, error) {
	if err := ValidateIdentifier(id); err != nil {
		return model.FeatureContext{}, err
	}
	log := c.log.WithField("feature", id)

	search, err := c.history.FindCommitsMatching(ctx, id)
	if err != nil {
		return model.FeatureContext{}, fmt.Errorf("searching history: %w", err)
	}

	fc := emptyContext(id)
	fc.Diagnostics.SkippedCommits = search.Skipped
	if search.Skipped > 0 {
		fc.Diagnostics.Warnings = append(fc.Diagnostics.Warnings,
			fmt.Sprintf("%d commit record(s) could not be read", search.Skipped))
	}

	matched := filterMatches(search.Commits, id)
	if len(matched) == 0 {
		log.Debug("no commits reference feature")
		fc.NotFound = true
		return fc, nil
	}

	sets, errs := c.containment(ctx, matched)
	if err := ctx.Err(); err != nil {
		return model.FeatureContext{}, err
	}

	var (
		kept     []model.MatchedCommit
		firstErr error
		branches = make(map[string]struct{})
		tags     = make(map[string]struct{})
	)
	for i, mc := range matched {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			fc.Diagnostics.SkippedCommits++
			fc.Diagnostics.Warnings = append(fc.Diagnostics.Warnings,
				fmt.Sprintf("skipped commit %s: containment lookup failed (%s)", shortHash(mc.Hash), errors.CodeOf(errs[i])))
			log.WithFields(logger.Fields{"commit": mc.Hash, "error": errs[i]}).Warn("containment lookup failed, skipping commit")
			continue
		}
		kept = append(kept, mc)
		for _, b := range sets[i].Branches {
			branches[b] = struct{}{}
		}
		for _, t := range sets[i].Tags {
			tags[t] = struct{}{}
		}
	}
	if len(kept) == 0 {
		return model.FeatureContext{}, fmt.Errorf("resolving containment: %w", firstErr)
	}

	fc.Commits = kept
	fc.Branches = sortedKeys(branches)
	fc.Tags = sortedKeys(tags)
	fc.CodePaths = codePaths(kept)
	fc.HotPaths = ranking.HotPaths(kept)
	fc.Description = describe(kept)
	fc.RelatedIssues = relatedIssues(kept)

	tracked, err := c.history.ListFiles(ctx, "")
	if err != nil {
		return model.FeatureContext{}, fmt.Errorf("listing tracked files: %w", err)
	}
	set := make(map[string]struct{}, len(tracked))
	for _, p := range tracked {
		set[p] = struct{}{}
	}
	fc.TestPaths = testPaths(fc.CodePaths, set)

	log.WithFields(logger.Fields{
		"commits": len(fc.Commits),
		"paths":   len(fc.CodePaths),
		"skipped": fc.Diagnostics.SkippedCommits,
	}).Debug("feature correlated")
	return fc, nil
}

func emptyContext(id string) model.FeatureContext {
	return model.FeatureContext{
		FeatureID:     id,
		Commits:       []model.MatchedCommit{},
		Branches:      []string{},
		Tags:          []string{},
		CodePaths:     []string{},
		TestPaths:     []string{},
		HotPaths:      []model.PathRank{},
		RelatedIssues: []string{},
	}
}

// filterMatches keeps commits that mention id verbatim or close it. The
// history search is case-insensitive, so this narrows it.
func filterMatches(commits []model.CommitRecord, id string) []model.MatchedCommit {
	closing := message.ClosingPattern(id)
	var out []model.MatchedCommit
	for _, rec := range commits {
		text := rec.Subject + "\n" + rec.Body
		switch {
		case closing.MatchString(text):
			out = append(out, model.MatchedCommit{CommitRecord: rec, MatchedBy: model.MatchClosing})
		case strings.Contains(text, id):
			out = append(out, model.MatchedCommit{CommitRecord: rec, MatchedBy: model.MatchMention})
		}
	}
	return out
}

// containment looks up every commit's containing refs with bounded
// concurrency. Failures are reported per commit.
func (c *Correlator) containment(ctx context.Context, commits []model.MatchedCommit) ([]model.ContainmentSet, []error) {
	sets := make([]model.ContainmentSet, len(commits))
	errs := make([]error, len(commits))

	var g errgroup.Group
	g.SetLimit(containmentWorkers)
	for i := range commits {
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			sets[i], errs[i] = c.history.ContainmentOf(ctx, commits[i].Hash)
			return nil
		})
	}
	_ = g.Wait()
	return sets, errs
}

func codePaths(commits []model.MatchedCommit) []string {
	seen := make(map[string]struct{})
	for i := range commits {
		for _, f := range commits[i].Files {
			seen[f] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// describe picks the description of the most recent commit that follows a
// known message convention, preferring its body over its subject text.
func describe(commits []model.MatchedCommit) string {
	for i := range commits {
		parsed := commits[i].Parsed
		if parsed == nil || parsed.Description == "" {
			continue
		}
		if body := message.StripTrailers(commits[i].Body); body != "" {
			return body
		}
		return parsed.Description
	}
	return strings.TrimSpace(commits[0].Subject)
}

func relatedIssues(commits []model.MatchedCommit) []string {
	seen := make(map[string]struct{})
	refs := []string{}
	for i := range commits {
		for _, ref := range message.IssueRefs(commits[i].Subject + "\n" + commits[i].Body) {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
