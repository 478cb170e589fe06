// Package history wraps the read-only git queries codecontext needs behind a
// typed interface. Every query runs as an isolated subprocess with a fixed
// environment and its own timeout, and every result is cached against the
// repository's ref state.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	logger "github.com/sirupsen/logrus"

	"github.com/phobologic/codecontext/internal/cache"
	"github.com/phobologic/codecontext/internal/config"
	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/model"
)

// blob is the content of a file at a ref; ok is false when the file is absent.
type blob struct {
	data []byte
	ok   bool
}

// Caches holds one bounded store per query kind. A Caches value may be
// shared by several repositories; entries are scoped by repository root.
type Caches struct {
	commits     *cache.Store[model.CommitSearch]
	containment *cache.Store[model.ContainmentSet]
	diffs       *cache.Store[[]model.ChangedFile]
	files       *cache.Store[[]string]
	blobs       *cache.Store[blob]
}

// NewCaches creates the per-kind stores with the configured capacities.
func NewCaches(cfg config.CacheConfig) (*Caches, error) {
	var (
		c   Caches
		err error
	)
	if c.commits, err = cache.New[model.CommitSearch]("commits", cfg.Commits); err != nil {
		return nil, err
	}
	if c.containment, err = cache.New[model.ContainmentSet]("containment", cfg.Containment); err != nil {
		return nil, err
	}
	if c.diffs, err = cache.New[[]model.ChangedFile]("diffs", cfg.Diffs); err != nil {
		return nil, err
	}
	if c.files, err = cache.New[[]string]("files", cfg.Files); err != nil {
		return nil, err
	}
	if c.blobs, err = cache.New[blob]("blobs", cfg.Blobs); err != nil {
		return nil, err
	}
	return &c, nil
}

// Stats returns a snapshot of every store's counters.
func (c *Caches) Stats() []cache.Stats {
	return []cache.Stats{
		c.commits.Stats(),
		c.containment.Stats(),
		c.diffs.Stats(),
		c.files.Stats(),
		c.blobs.Stats(),
	}
}

// Options configures Open.
type Options struct {
	GitBinary string
	Timeout   time.Duration
	// Caches defaults to a fresh set sized by CacheConfig.
	Caches      *Caches
	CacheConfig config.CacheConfig
	// Runner defaults to an ExecRunner for GitBinary.
	Runner Runner
	Log    logger.FieldLogger
}

// Repository is an opened, validated git work tree. It is safe for
// concurrent use.
type Repository struct {
	root   string
	runner Runner
	caches *Caches
	log    logger.FieldLogger

	mu  sync.Mutex
	git *gogit.Repository
}

// Open validates root and returns a handle to it. root must exist, be a
// readable directory and be the top of a git work tree.
func Open(root string, opts Options) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.RepositoryNotFound, "repository root cannot be resolved", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	dir, err := os.Open(abs)
	if err != nil {
		return nil, errors.Wrap(errors.RepositoryNotFound, "repository root is missing or unreadable", err)
	}
	info, err := dir.Stat()
	dir.Close()
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.RepositoryNotFound, "repository root is not a directory")
	}

	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		return nil, errors.Wrap(errors.RepositoryNotFound, "repository root is not a git work tree", err)
	}
	if _, err := repo.Worktree(); err != nil {
		return nil, errors.Wrap(errors.RepositoryNotFound, "repository has no work tree", err)
	}

	log := opts.Log
	if log == nil {
		log = logger.StandardLogger()
	}
	log = log.WithField("component", "history")

	runner := opts.Runner
	if runner == nil {
		if runner, err = NewExecRunner(opts.GitBinary, opts.Timeout, log); err != nil {
			return nil, err
		}
	}

	caches := opts.Caches
	if caches == nil {
		if caches, err = NewCaches(opts.CacheConfig); err != nil {
			return nil, err
		}
	}

	return &Repository{root: abs, runner: runner, caches: caches, log: log, git: repo}, nil
}

// Root returns the absolute, symlink-resolved work tree root.
func (r *Repository) Root() string {
	return r.root
}

// Caches returns the stores backing this repository.
func (r *Repository) Caches() *Caches {
	return r.caches
}

// Fingerprint identifies the current ref state: HEAD plus every branch,
// remote and tag tip. It is read directly from the object store without a
// subprocess, so any new commit, branch or tag changes it.
func (r *Repository) Fingerprint() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := sha256.New()
	head, err := r.git.Head()
	switch {
	case err == nil:
		h.Write([]byte("HEAD " + head.Hash().String() + "\n"))
	case stderrors.Is(err, plumbing.ErrReferenceNotFound):
		h.Write([]byte("HEAD unborn\n"))
	default:
		return "", errors.Wrap(errors.RepositoryNotFound, "cannot read HEAD", err)
	}

	iter, err := r.git.References()
	if err != nil {
		return "", errors.Wrap(errors.RepositoryNotFound, "cannot read references", err)
	}
	var refs []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			refs = append(refs, ref.Name().String()+" "+ref.Hash().String())
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(errors.RepositoryNotFound, "cannot read references", err)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		h.Write([]byte(ref + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// run is a convenience wrapper binding the runner to the work tree root.
func (r *Repository) run(args ...string) ([]byte, error) {
	return r.runner.Run(r.root, args...)
}
