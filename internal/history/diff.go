package history

import (
	"context"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/phobologic/codecontext/internal/cache"
	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/model"
)

// DiffBetween returns the files changed between two revisions, with hunks.
func (r *Repository) DiffBetween(ctx context.Context, base, head string) ([]model.ChangedFile, error) {
	if err := ValidateRef(base); err != nil {
		return nil, err
	}
	if err := ValidateRef(head); err != nil {
		return nil, err
	}
	fp, err := r.Fingerprint()
	if err != nil {
		return nil, err
	}

	key := cache.Key(r.root, "diff", base, head)
	return r.caches.diffs.Do(ctx, r.root, key, fp, func() ([]model.ChangedFile, error) {
		out, err := r.run("diff", "--no-color", "--no-ext-diff", "--no-textconv", "-M", base, head, "--")
		if err != nil {
			if isUnresolved(err) {
				return nil, errors.Wrap(errors.UnknownCommit, "revision does not resolve", err)
			}
			return nil, err
		}
		return ParseDiff(string(out))
	})
}

// ParseDiff parses unified diff text into changed files. Empty text is an
// empty diff; text that is not a diff is an OUTPUT_PARSE error.
func ParseDiff(text string) ([]model.ChangedFile, error) {
	files := []model.ChangedFile{}
	if strings.TrimSpace(text) == "" {
		return files, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return nil, errors.Wrap(errors.OutputParse, "diff is malformed", err)
	}
	if len(fileDiffs) == 0 {
		return nil, errors.New(errors.OutputParse, "diff contains no file changes")
	}

	for _, fd := range fileDiffs {
		cf := model.ChangedFile{
			OldPath: cleanPath(fd.OrigName),
			NewPath: cleanPath(fd.NewName),
			Hunks:   make([]model.Hunk, 0, len(fd.Hunks)),
		}
		if cf.OldPath == "" && cf.NewPath == "" {
			return nil, errors.New(errors.OutputParse, "diff file entry has no path")
		}
		for _, h := range fd.Hunks {
			cf.Hunks = append(cf.Hunks, model.Hunk{
				OldStart: int(h.OrigStartLine),
				OldLines: int(h.OrigLines),
				NewStart: int(h.NewStartLine),
				NewLines: int(h.NewLines),
				Lines:    hunkLines(h.Body),
			})
		}
		files = append(files, cf)
	}
	return files, nil
}

// cleanPath removes the a/ or b/ prefix from git diff paths; /dev/null
// becomes "".
func cleanPath(path string) string {
	if path == "" || path == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

func hunkLines(body []byte) []string {
	text := strings.TrimSuffix(string(body), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		// Some tools strip the space from empty context lines.
		if l == "" {
			lines[i] = " "
		}
	}
	return lines
}

// ReverseApply reconstructs the pre-change content of a file from its
// post-change content and hunks. It reports false when the hunks do not
// match post, e.g. because the file changed after the diff was taken.
func ReverseApply(post []byte, f model.ChangedFile) ([]byte, bool) {
	lines, trailing := splitLines(post)
	var pre []string
	pos := 0
	for _, h := range f.Hunks {
		start := h.NewStart - 1
		if h.NewLines == 0 {
			start = h.NewStart
		}
		if start < pos || start > len(lines) {
			return nil, false
		}
		pre = append(pre, lines[pos:start]...)
		pos = start

		for _, l := range h.Lines {
			op, text := l[0], l[1:]
			switch op {
			case ' ', '+':
				if pos >= len(lines) || lines[pos] != text {
					return nil, false
				}
				if op == ' ' {
					pre = append(pre, text)
				}
				pos++
			case '-':
				pre = append(pre, text)
			}
		}
	}
	pre = append(pre, lines[pos:]...)
	return joinLines(pre, trailing || len(lines) == 0), true
}

// HunkSides builds both sides of a file from its hunks alone. Lines outside
// the hunks are blank, so line numbers match the real file.
func HunkSides(f model.ChangedFile) (pre, post []byte) {
	var oldSide, newSide []string
	for _, h := range f.Hunks {
		oldSide = padTo(oldSide, hunkOffset(h.OldStart, h.OldLines))
		newSide = padTo(newSide, hunkOffset(h.NewStart, h.NewLines))
		for _, l := range h.Lines {
			op, text := l[0], l[1:]
			switch op {
			case ' ':
				oldSide = append(oldSide, text)
				newSide = append(newSide, text)
			case '-':
				oldSide = append(oldSide, text)
			case '+':
				newSide = append(newSide, text)
			}
		}
	}
	return joinLines(oldSide, true), joinLines(newSide, true)
}

func hunkOffset(start, count int) int {
	if count == 0 {
		return start
	}
	return start - 1
}

func padTo(lines []string, n int) []string {
	for len(lines) < n {
		lines = append(lines, "")
	}
	return lines
}

func splitLines(b []byte) ([]string, bool) {
	if len(b) == 0 {
		return nil, false
	}
	s := string(b)
	trailing := strings.HasSuffix(s, "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n"), trailing
}

func joinLines(lines []string, trailing bool) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	s := strings.Join(lines, "\n")
	if trailing {
		s += "\n"
	}
	return []byte(s)
}
