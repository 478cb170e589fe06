package history

import (
	"bytes"
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/phobologic/codecontext/internal/cache"
	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/message"
	"github.com/phobologic/codecontext/internal/model"
)

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"

	// logFormat emits one record per commit: hash, author time, subject and
	// body, followed by the --name-only file list.
	logFormat = "--format=" + "%x1e%H%x1f%at%x1f%s%x1f%b%x1f"

	// MaxPatternLength bounds search patterns and identifiers.
	MaxPatternLength = 200
)

var hashRe = regexp.MustCompile(`^(?:[0-9a-f]{40}|[0-9a-f]{64})$`)

// ValidatePattern rejects search patterns that could change how the git
// process is invoked or that git would read as an option.
func ValidatePattern(pattern string) error {
	switch {
	case pattern == "":
		return errors.New(errors.InvalidPattern, "pattern is empty")
	case len(pattern) > MaxPatternLength:
		return errors.Newf(errors.InvalidPattern, "pattern is longer than %d characters", MaxPatternLength)
	case strings.HasPrefix(pattern, "-"):
		return errors.New(errors.InvalidPattern, "pattern must not start with '-'")
	case strings.ContainsAny(pattern, ";&|`$()<>"):
		return errors.New(errors.InvalidPattern, "pattern contains shell metacharacters")
	case strings.IndexFunc(pattern, unicode.IsControl) >= 0:
		return errors.New(errors.InvalidPattern, "pattern contains control characters")
	}
	return nil
}

// FindCommitsMatching returns the commits on any ref whose subject or body
// contains pattern, compared case-insensitively. Commits are ordered
// newest-first with ties broken by hash. Records that cannot be parsed are
// skipped and counted.
func (r *Repository) FindCommitsMatching(ctx context.Context, pattern string) (model.CommitSearch, error) {
	if err := ValidatePattern(pattern); err != nil {
		return model.CommitSearch{}, err
	}
	fp, err := r.Fingerprint()
	if err != nil {
		return model.CommitSearch{}, err
	}

	key := cache.Key(r.root, "log", pattern)
	return r.caches.commits.Do(ctx, r.root, key, fp, func() (model.CommitSearch, error) {
		out, err := r.run("log", "--all", "--fixed-strings", "--regexp-ignore-case",
			"--grep="+pattern, "--name-only", logFormat)
		if err != nil {
			return model.CommitSearch{}, err
		}
		search, err := ParseLog(out)
		if err != nil {
			return model.CommitSearch{}, err
		}
		if search.Skipped > 0 {
			r.log.WithField("skipped", search.Skipped).Warn("skipped malformed commit records")
		}
		return search, nil
	})
}

// ParseLog parses the output of git log run with logFormat and --name-only.
func ParseLog(out []byte) (model.CommitSearch, error) {
	search := model.CommitSearch{Commits: []model.CommitRecord{}}
	trimmed := bytes.TrimLeft(out, "\r\n\t ")
	if len(trimmed) == 0 {
		return search, nil
	}
	if !bytes.HasPrefix(trimmed, []byte(recordSep)) {
		return model.CommitSearch{}, errors.New(errors.OutputParse, "git log output is not in the expected format")
	}

	records := strings.Split(string(trimmed), recordSep)[1:]
	for _, rec := range records {
		c, ok := parseRecord(rec)
		if !ok {
			search.Skipped++
			continue
		}
		search.Commits = append(search.Commits, c)
	}
	if len(search.Commits) == 0 && search.Skipped > 0 {
		return model.CommitSearch{}, errors.Newf(errors.OutputParse, "none of %d git log records could be parsed", search.Skipped)
	}

	SortCommits(search.Commits)
	return search, nil
}

func parseRecord(rec string) (model.CommitRecord, bool) {
	fields := strings.Split(rec, fieldSep)
	if len(fields) != 5 {
		return model.CommitRecord{}, false
	}
	hash := strings.TrimSpace(fields[0])
	if !hashRe.MatchString(hash) {
		return model.CommitRecord{}, false
	}
	at, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return model.CommitRecord{}, false
	}

	subject := strings.TrimSpace(fields[2])
	var files []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(fields[4], "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		files = append(files, line)
	}

	return model.CommitRecord{
		Hash:       hash,
		AuthorTime: time.Unix(at, 0).UTC(),
		Subject:    subject,
		Body:       strings.TrimSpace(fields[3]),
		Parsed:     message.Parse(subject),
		Files:      files,
	}, true
}

// SortCommits orders commits newest-first, breaking timestamp ties by hash.
func SortCommits(commits []model.CommitRecord) {
	sort.SliceStable(commits, func(i, j int) bool {
		a, b := commits[i], commits[j]
		if !a.AuthorTime.Equal(b.AuthorTime) {
			return a.AuthorTime.After(b.AuthorTime)
		}
		return a.Hash < b.Hash
	})
}
