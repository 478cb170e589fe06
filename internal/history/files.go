package history

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/codecontext/internal/cache"
	"github.com/phobologic/codecontext/internal/errors"
)

// ListFiles returns the tracked files matching a gitignore-style glob, in
// git's order. An empty glob matches every tracked file.
func (r *Repository) ListFiles(ctx context.Context, glob string) ([]string, error) {
	if strings.IndexFunc(glob, unicode.IsControl) >= 0 {
		return nil, errors.New(errors.InputValidation, "glob contains control characters")
	}
	fp, err := r.Fingerprint()
	if err != nil {
		return nil, err
	}

	key := cache.Key(r.root, "ls-files")
	all, err := r.caches.files.Do(ctx, r.root, key, fp, func() ([]string, error) {
		out, err := r.run("ls-files", "-z", "--cached")
		if err != nil {
			return nil, err
		}
		var files []string
		for _, f := range strings.Split(string(out), "\x00") {
			if f != "" {
				files = append(files, f)
			}
		}
		return files, nil
	})
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(glob) == "" {
		return append([]string(nil), all...), nil
	}
	matcher := ignore.CompileIgnoreLines(glob)
	var matched []string
	for _, f := range all {
		if matcher.MatchesPath(f) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// IsTracked reports whether path is in the tracked file listing.
func (r *Repository) IsTracked(ctx context.Context, p string) (bool, error) {
	files, err := r.ListFiles(ctx, "")
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f == p {
			return true, nil
		}
	}
	return false, nil
}

// validateRelPath checks a repository-relative, slash-separated path.
func validateRelPath(p string) error {
	clean := path.Clean(p)
	switch {
	case p == "" || clean == ".":
		return errors.New(errors.InputValidation, "path is empty")
	case path.IsAbs(p) || filepath.IsAbs(p):
		return errors.New(errors.InputValidation, "path must be relative to the repository root")
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return errors.New(errors.InputValidation, "path is outside the repository")
	case strings.IndexFunc(p, unicode.IsControl) >= 0:
		return errors.New(errors.InputValidation, "path contains control characters")
	}
	return nil
}

// FileAt returns the content of path at ref. The boolean is false when the
// file does not exist at that revision.
func (r *Repository) FileAt(ctx context.Context, ref, p string) ([]byte, bool, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, false, err
	}
	if err := validateRelPath(p); err != nil {
		return nil, false, err
	}
	p = path.Clean(p)
	fp, err := r.Fingerprint()
	if err != nil {
		return nil, false, err
	}

	key := cache.Key(r.root, "cat-file", ref, p)
	b, err := r.caches.blobs.Do(ctx, r.root, key, fp, func() (blob, error) {
		out, err := r.run("cat-file", "blob", ref+":"+p)
		if err != nil {
			if isUnresolved(err) || strings.Contains(stderrOf(err), "does not exist") {
				return blob{}, nil
			}
			return blob{}, err
		}
		return blob{data: out, ok: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return b.data, b.ok, nil
}

// WorkingFile returns the content of path in the work tree. The boolean is
// false when the file is absent. Symlinks leading outside the root are
// treated as absent.
func (r *Repository) WorkingFile(p string) ([]byte, bool, error) {
	if err := validateRelPath(p); err != nil {
		return nil, false, err
	}
	full, err := filepath.EvalSymlinks(filepath.Join(r.root, filepath.FromSlash(p)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(errors.FileNotFound, "file not readable: "+p, err)
	}
	rel, err := filepath.Rel(r.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, false, nil
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, false, errors.Wrap(errors.FileNotFound, "file not readable: "+p, err)
	}
	return data, true, nil
}
