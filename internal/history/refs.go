package history

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/phobologic/codecontext/internal/cache"
	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/model"
)

var (
	commitIDRe = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)
	refRe      = regexp.MustCompile(`^[A-Za-z0-9_./~^@{}+-]{1,200}$`)
)

// unresolved lists stderr fragments git prints for objects that do not exist.
var unresolved = []string{
	"malformed object name",
	"no such commit",
	"unknown revision",
	"bad revision",
	"bad object",
	"not a valid object name",
	"invalid object name",
}

func isUnresolved(err error) bool {
	if !errors.Is(err, errors.CommandFailed) {
		return false
	}
	stderr := strings.ToLower(stderrOf(err))
	for _, s := range unresolved {
		if strings.Contains(stderr, s) {
			return true
		}
	}
	return false
}

// ValidateRef checks that ref is a plain revision expression git will not
// read as an option or a range.
func ValidateRef(ref string) error {
	if !refRe.MatchString(ref) || strings.HasPrefix(ref, "-") || strings.Contains(ref, "..") {
		return errors.New(errors.InputValidation, "invalid revision")
	}
	return nil
}

// ContainmentOf returns the branches and tags whose history includes hash.
func (r *Repository) ContainmentOf(ctx context.Context, hash string) (model.ContainmentSet, error) {
	if !commitIDRe.MatchString(hash) {
		return model.ContainmentSet{}, errors.New(errors.UnknownCommit, "commit hash is not valid hex")
	}
	hash = strings.ToLower(hash)
	fp, err := r.Fingerprint()
	if err != nil {
		return model.ContainmentSet{}, err
	}

	key := cache.Key(r.root, "contains", hash)
	return r.caches.containment.Do(ctx, r.root, key, fp, func() (model.ContainmentSet, error) {
		out, err := r.run("for-each-ref", "--contains", hash, "--format=%(refname)",
			"refs/heads", "refs/remotes", "refs/tags")
		if err != nil {
			if isUnresolved(err) {
				return model.ContainmentSet{}, errors.Wrap(errors.UnknownCommit, "commit "+hash+" does not resolve", err)
			}
			return model.ContainmentSet{}, err
		}
		return parseRefNames(string(out)), nil
	})
}

// parseRefNames splits full ref names into sorted branch and tag names.
// Remote branches keep their remote prefix; symbolic remote HEADs are dropped.
func parseRefNames(out string) model.ContainmentSet {
	set := model.ContainmentSet{Branches: []string{}, Tags: []string{}}
	seen := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		ref := strings.TrimSpace(line)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		switch {
		case strings.HasPrefix(ref, "refs/heads/"):
			set.Branches = append(set.Branches, strings.TrimPrefix(ref, "refs/heads/"))
		case strings.HasPrefix(ref, "refs/remotes/"):
			name := strings.TrimPrefix(ref, "refs/remotes/")
			if strings.HasSuffix(name, "/HEAD") {
				continue
			}
			set.Branches = append(set.Branches, name)
		case strings.HasPrefix(ref, "refs/tags/"):
			set.Tags = append(set.Tags, strings.TrimPrefix(ref, "refs/tags/"))
		}
	}
	sort.Strings(set.Branches)
	sort.Strings(set.Tags)
	return set
}
