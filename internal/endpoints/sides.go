package endpoints

import (
	"context"

	"github.com/phobologic/codecontext/internal/history"
	"github.com/phobologic/codecontext/internal/model"
)

// SideLoader supplies the pre- and post-change content of a changed file.
// A nil side means the file does not exist in that version.
type SideLoader interface {
	Sides(ctx context.Context, f model.ChangedFile) (pre, post []byte, err error)
}

// Files reads file content from a repository.
type Files interface {
	FileAt(ctx context.Context, ref, path string) ([]byte, bool, error)
	WorkingFile(path string) ([]byte, bool, error)
}

// RefSides reads both versions from revisions of the repository.
type RefSides struct {
	Files Files
	Base  string
	Head  string
}

// Sides implements SideLoader.
func (s RefSides) Sides(ctx context.Context, f model.ChangedFile) (pre, post []byte, err error) {
	if f.OldPath != "" {
		if pre, err = blobAt(ctx, s.Files, s.Base, f.OldPath); err != nil {
			return nil, nil, err
		}
	}
	if f.NewPath != "" {
		if post, err = blobAt(ctx, s.Files, s.Head, f.NewPath); err != nil {
			return nil, nil, err
		}
	}
	return pre, post, nil
}

func blobAt(ctx context.Context, files Files, ref, path string) ([]byte, error) {
	b, ok, err := files.FileAt(ctx, ref, path)
	if err != nil || !ok {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// WorktreeSides reconstructs versions for a diff supplied as text. The
// post-change version is the working tree file when the diff still applies
// to it; otherwise both versions are rebuilt from the hunks alone.
type WorktreeSides struct {
	Files Files
}

// Sides implements SideLoader.
func (s WorktreeSides) Sides(_ context.Context, f model.ChangedFile) (pre, post []byte, err error) {
	if f.NewPath != "" && s.Files != nil {
		current, ok, err := s.Files.WorkingFile(f.NewPath)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			if before, applies := history.ReverseApply(current, f); applies {
				return side(f.OldPath, before), current, nil
			}
		}
	}
	before, after := history.HunkSides(f)
	return side(f.OldPath, before), side(f.NewPath, after), nil
}

func side(path string, content []byte) []byte {
	if path == "" {
		return nil
	}
	if content == nil {
		return []byte{}
	}
	return content
}
